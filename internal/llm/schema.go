package llm

// Schema is the JSON-schema subset understood by structured-output backends.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

func ArrayOf(items *Schema) *Schema { return &Schema{Type: "array", Items: items} }

func String(desc string) *Schema { return &Schema{Type: "string", Description: desc} }

func Integer(desc string) *Schema { return &Schema{Type: "integer", Description: desc} }

func Boolean(desc string) *Schema { return &Schema{Type: "boolean", Description: desc} }
