// Package mock provides a scripted llm.Backend for tests and dry runs.
package mock

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
)

// Backend records every request and answers through the optional funcs.
// Without a func it returns "ok" for text and a small PNG for images.
type Backend struct {
	id         provider.ID
	Structured bool

	TextFunc   func(ctx context.Context, req llm.TextRequest) (string, error)
	ImageFunc  func(ctx context.Context, req llm.ImageRequest) (*llm.Image, error)
	VisionFunc func(ctx context.Context, req llm.VisionRequest) (string, error)

	mu     sync.Mutex
	texts  []llm.TextRequest
	images []llm.ImageRequest
	vision []llm.VisionRequest
}

var (
	_ llm.TextGenerator    = (*Backend)(nil)
	_ llm.ImageGenerator   = (*Backend)(nil)
	_ llm.ImageAnalyzer    = (*Backend)(nil)
	_ llm.StructuredOutput = (*Backend)(nil)
)

func New(id provider.ID) *Backend {
	return &Backend{id: id}
}

// Factory returns a factory that always yields b.
func (b *Backend) Factory() llm.Factory {
	return func(provider.Config) (llm.Backend, error) { return b, nil }
}

func (b *Backend) Provider() provider.ID { return b.id }

func (b *Backend) StructuredOutput() bool { return b.Structured }

func (b *Backend) GenerateText(ctx context.Context, req llm.TextRequest) (string, error) {
	b.mu.Lock()
	b.texts = append(b.texts, req)
	fn := b.TextFunc
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return "ok", nil
}

func (b *Backend) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.Image, error) {
	b.mu.Lock()
	b.images = append(b.images, req)
	fn := b.ImageFunc
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return &llm.Image{Data: PNG(4, 4), MIMEType: "image/png"}, nil
}

func (b *Backend) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (string, error) {
	b.mu.Lock()
	b.vision = append(b.vision, req)
	fn := b.VisionFunc
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return `{"qualityScore":7,"altText":"alt","brief":"brief","regenerate":false}`, nil
}

func (b *Backend) TextCalls() []llm.TextRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.TextRequest(nil), b.texts...)
}

func (b *Backend) ImageCalls() []llm.ImageRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.ImageRequest(nil), b.images...)
}

func (b *Backend) VisionCalls() []llm.VisionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.VisionRequest(nil), b.vision...)
}

// PNG encodes a solid w x h image.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
