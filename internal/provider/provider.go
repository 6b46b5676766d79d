// Package provider defines the stable provider vocabulary shared by
// configuration, the gateway and the CLI.
package provider

import (
	"sort"
	"strings"

	"github.com/jo-hoe/postpainter/internal/apperr"
)

// Kind distinguishes text (analysis) providers from image providers.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// ID is a provider identifier as persisted in configuration.
type ID string

const (
	Gemini       ID = "gemini"
	OpenAI       ID = "openai"
	OpenRouter   ID = "openrouter"
	Groq         ID = "groq"
	Stability    ID = "stability"
	Ideogram     ID = "ideogram"
	Pollinations ID = "pollinations"
)

// Holder names a credential group. Providers sharing a holder share one secret.
type Holder string

const (
	HolderNone       Holder = ""
	HolderGoogle     Holder = "google"
	HolderOpenAI     Holder = "openai"
	HolderOpenRouter Holder = "openrouter"
	HolderGroq       Holder = "groq"
	HolderStability  Holder = "stability"
	HolderIdeogram   Holder = "ideogram"
)

// Spec describes one provider variant.
type Spec struct {
	ID            ID
	Kind          Kind
	DisplayName   string
	Holder        Holder
	RequiresModel bool   // chat-completion style, caller picks the model
	FixedModel    string // hosted model used when RequiresModel is false
	Implemented   bool
	BaseURL       string
}

var registry = []Spec{
	{ID: Gemini, Kind: KindText, DisplayName: "Google Gemini", Holder: HolderGoogle, FixedModel: "gemini-2.5-flash", Implemented: true, BaseURL: "https://generativelanguage.googleapis.com"},
	{ID: OpenAI, Kind: KindText, DisplayName: "OpenAI", Holder: HolderOpenAI, RequiresModel: true, Implemented: true, BaseURL: "https://api.openai.com"},
	{ID: OpenRouter, Kind: KindText, DisplayName: "OpenRouter", Holder: HolderOpenRouter, RequiresModel: true, Implemented: true, BaseURL: "https://openrouter.ai/api"},
	{ID: Groq, Kind: KindText, DisplayName: "Groq", Holder: HolderGroq, RequiresModel: true, Implemented: true, BaseURL: "https://api.groq.com/openai"},

	{ID: Gemini, Kind: KindImage, DisplayName: "Google Gemini Image", Holder: HolderGoogle, FixedModel: "gemini-2.5-flash-image", Implemented: true, BaseURL: "https://generativelanguage.googleapis.com"},
	{ID: OpenAI, Kind: KindImage, DisplayName: "OpenAI DALL-E 3", Holder: HolderOpenAI, FixedModel: "dall-e-3", Implemented: true, BaseURL: "https://api.openai.com"},
	{ID: Stability, Kind: KindImage, DisplayName: "Stability AI", Holder: HolderStability, FixedModel: "stable-image-core"},
	{ID: Ideogram, Kind: KindImage, DisplayName: "Ideogram", Holder: HolderIdeogram, FixedModel: "ideogram-v2"},
	{ID: Pollinations, Kind: KindImage, DisplayName: "Pollinations (free)", Holder: HolderNone, FixedModel: "flux", Implemented: true, BaseURL: "https://image.pollinations.ai"},
}

// Lookup returns the spec for a provider of the given kind.
func Lookup(kind Kind, id ID) (Spec, bool) {
	for _, s := range registry {
		if s.Kind == kind && s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// All returns every provider of the given kind in declaration order.
func All(kind Kind) []Spec {
	var out []Spec
	for _, s := range registry {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Holders returns the distinct credential holders that need a secret, sorted.
func Holders() []Holder {
	seen := map[Holder]bool{}
	for _, s := range registry {
		if s.Holder != HolderNone {
			seen[s.Holder] = true
		}
	}
	out := make([]Holder, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Config pairs a provider selection with its credential and optional model.
type Config struct {
	Kind     Kind   `yaml:"-" json:"kind"`
	Provider ID     `yaml:"provider" json:"provider"`
	APIKey   string `yaml:"apiKey" json:"-"`
	Model    string `yaml:"model" json:"model,omitempty"`
}

// Spec resolves the provider spec, failing for unknown identifiers.
func (c Config) Spec() (Spec, error) {
	s, ok := Lookup(c.Kind, c.Provider)
	if !ok {
		return Spec{}, apperr.Validation("unknown %s provider %q", c.Kind, c.Provider)
	}
	return s, nil
}

// Validate checks the model and key rules for the selected provider. It never
// touches the network.
func (c Config) Validate() error {
	s, err := c.validateModel()
	if err != nil {
		return err
	}
	if s.Holder != HolderNone && strings.TrimSpace(c.APIKey) == "" {
		return apperr.Validation("an API key for %s is required (credentials.%s)", s.DisplayName, s.Holder)
	}
	return nil
}

// ValidateModel checks the provider and model rules only. Configuration uses
// it at load time; missing secrets are reported separately.
func (c Config) ValidateModel() error {
	_, err := c.validateModel()
	return err
}

func (c Config) validateModel() (Spec, error) {
	if strings.TrimSpace(string(c.Provider)) == "" {
		return Spec{}, apperr.Validation("%s.provider is required", c.Kind)
	}
	s, err := c.Spec()
	if err != nil {
		return Spec{}, err
	}
	model := strings.TrimSpace(c.Model)
	if s.RequiresModel && model == "" {
		return Spec{}, apperr.Validation("%s.model is required for provider %s", c.Kind, c.Provider)
	}
	if !s.RequiresModel && model != "" {
		return Spec{}, apperr.Validation("%s provider %s uses a fixed model and does not accept %s.model", c.Kind, c.Provider, c.Kind)
	}
	return s, nil
}

// EffectiveModel returns the configured model or the provider's fixed one.
func (c Config) EffectiveModel() string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	if s, ok := Lookup(c.Kind, c.Provider); ok {
		return s.FixedModel
	}
	return ""
}
