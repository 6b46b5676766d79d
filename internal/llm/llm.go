// Package llm is the provider gateway: a uniform call surface over text,
// vision and image generation backends.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jo-hoe/postpainter/internal/provider"
)

// TextRequest is a single-turn text completion.
type TextRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float32
	// JSON asks for a JSON-only answer; Schema is honored by backends with structured output.
	JSON   bool
	Schema *Schema
}

// VisionRequest asks a multimodal model about one image.
type VisionRequest struct {
	Model     string
	Prompt    string
	Image     []byte
	MIMEType  string
	MaxTokens int
	JSON      bool
	Schema    *Schema
}

// ImageRequest asks an image model for one image.
type ImageRequest struct {
	Model    string
	Prompt   string
	Settings ImageSettings
}

// Image is generated image data as returned by a provider.
type Image struct {
	Data     []byte
	MIMEType string
}

// AspectRatio is the configured image orientation.
type AspectRatio string

const (
	AspectLandscape AspectRatio = "landscape"
	AspectSquare    AspectRatio = "square"
	AspectPortrait  AspectRatio = "portrait"
)

// Ratio returns the "W:H" form used by vendor APIs.
func (a AspectRatio) Ratio() string {
	switch a {
	case AspectSquare:
		return "1:1"
	case AspectPortrait:
		return "9:16"
	default:
		return "16:9"
	}
}

// Dimensions returns a pixel size for vendors that take width and height.
func (a AspectRatio) Dimensions() (int, int) {
	switch a {
	case AspectSquare:
		return 1024, 1024
	case AspectPortrait:
		return 768, 1344
	default:
		return 1344, 768
	}
}

// ImageSettings are the operator's image preferences.
type ImageSettings struct {
	Format         string      `yaml:"format" json:"format"`   // image/jpeg, image/png or image/webp
	Quality        int         `yaml:"quality" json:"quality"` // 10..100, step 5
	AspectRatio    AspectRatio `yaml:"aspectRatio" json:"aspectRatio"`
	Style          string      `yaml:"style" json:"style"`
	NegativePrompt string      `yaml:"negativePrompt" json:"negativePrompt"`
}

// Backend is one provider implementation. Capabilities are expressed by
// implementing TextGenerator, ImageGenerator and ImageAnalyzer.
type Backend interface {
	Provider() provider.ID
}

type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
}

type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, req VisionRequest) (string, error)
}

// StructuredOutput is implemented by backends with a native JSON mode.
type StructuredOutput interface {
	StructuredOutput() bool
}

// Factory builds a backend for a validated provider configuration.
type Factory func(cfg provider.Config) (Backend, error)

const jsonOnlyInstruction = "\n\nRespond with only valid JSON. Do not include explanations, markdown or code fences."

// ImagePrompt combines a brief with the operator's style settings.
func ImagePrompt(brief string, s ImageSettings) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(brief))
	if st := strings.TrimSpace(s.Style); st != "" {
		fmt.Fprintf(&b, "\nStyle: %s.", st)
	}
	fmt.Fprintf(&b, "\nComposition: %s orientation, aspect ratio %s.", aspectOrDefault(s.AspectRatio), s.AspectRatio.Ratio())
	b.WriteString("\nNo text, letters, captions or watermarks in the image.")
	if neg := strings.TrimSpace(s.NegativePrompt); neg != "" {
		fmt.Fprintf(&b, "\nAvoid: %s.", neg)
	}
	return b.String()
}

func aspectOrDefault(a AspectRatio) AspectRatio {
	if a == "" {
		return AspectLandscape
	}
	return a
}
