package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jo-hoe/postpainter/internal/apperr"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\\n?(.*?)```")

// ExtractJSON pulls a JSON document out of a model reply. A fenced code block
// wins; otherwise the span from the first '{' or '[' to the last matching
// closer is taken. ok is false when nothing usable is found.
func ExtractJSON(text string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner, true
		}
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// DecodeJSON extracts and unmarshals a reply into v. Failures are
// MalformedResponse errors attributed to providerName.
func DecodeJSON(providerName, text string, v any) error {
	raw, ok := ExtractJSON(text)
	if !ok {
		return &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: providerName, Message: "no JSON found in reply"}
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: providerName, Message: "reply is not valid JSON", Err: err}
	}
	return nil
}
