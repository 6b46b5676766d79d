package mock

import (
	"context"
	"testing"

	"github.com/h2non/filetype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
)

func TestBackend_RecordsCalls(t *testing.T) {
	b := New(provider.Gemini)
	_, err := b.GenerateText(context.Background(), llm.TextRequest{Prompt: "p1"})
	require.NoError(t, err)
	_, err = b.GenerateImage(context.Background(), llm.ImageRequest{Prompt: "p2"})
	require.NoError(t, err)

	require.Len(t, b.TextCalls(), 1)
	assert.Equal(t, "p1", b.TextCalls()[0].Prompt)
	require.Len(t, b.ImageCalls(), 1)
}

func TestBackend_RespectsContextCancel(t *testing.T) {
	b := New(provider.Gemini)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.GenerateText(ctx, llm.TextRequest{})
	assert.Error(t, err)
}

func TestPNGIsImage(t *testing.T) {
	data := PNG(2, 2)
	kind, err := filetype.Match(data)
	require.NoError(t, err)
	assert.Equal(t, "image/png", kind.MIME.Value)
}
