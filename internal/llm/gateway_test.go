package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/llm/mock"
	"github.com/jo-hoe/postpainter/internal/provider"
	"github.com/jo-hoe/postpainter/internal/retry"
)

type fakeClock struct {
	mu      sync.Mutex
	elapsed time.Duration
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed += d
	return nil
}

func newGateway(clock *fakeClock) *llm.Gateway {
	p := retry.Policy{Attempts: 3, InitialDelay: 2 * time.Second, Multiplier: 2}
	if clock != nil {
		p.Sleep = clock.sleep
	}
	return llm.NewGateway(llm.Options{Timeout: time.Second, Retry: p})
}

func textCfg(id provider.ID, model string) provider.Config {
	return provider.Config{Provider: id, APIKey: "k", Model: model}
}

func TestGateway_MissingModelFailsBeforeNetwork(t *testing.T) {
	for _, spec := range provider.All(provider.KindText) {
		if !spec.RequiresModel {
			continue
		}
		t.Run(string(spec.ID), func(t *testing.T) {
			var built int32
			g := newGateway(nil)
			g.Register(provider.KindText, spec.ID, func(provider.Config) (llm.Backend, error) {
				atomic.AddInt32(&built, 1)
				return mock.New(spec.ID), nil
			})

			_, err := g.GenerateText(context.Background(), textCfg(spec.ID, ""), "hi")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			_, err = g.GenerateJSON(context.Background(), textCfg(spec.ID, ""), "hi", nil)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Zero(t, atomic.LoadInt32(&built), "backend must not be constructed")
		})
	}
}

func TestGateway_RetriesRateLimitWithBackoff(t *testing.T) {
	clock := &fakeClock{}
	g := newGateway(clock)
	b := mock.New(provider.OpenAI)
	var calls int32
	b.TextFunc = func(ctx context.Context, req llm.TextRequest) (string, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return "", &apperr.Error{Kind: apperr.KindRateLimit, StatusCode: 429}
		}
		return "done", nil
	}
	g.Register(provider.KindText, provider.OpenAI, b.Factory())

	out, err := g.GenerateText(context.Background(), textCfg(provider.OpenAI, "gpt-4o-mini"), "hi")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 2*time.Second*(1+2), clock.elapsed)
}

func TestGateway_OtherErrorsAreNotRetried(t *testing.T) {
	clock := &fakeClock{}
	g := newGateway(clock)
	b := mock.New(provider.OpenAI)
	var calls int32
	b.TextFunc = func(ctx context.Context, req llm.TextRequest) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", apperr.FromStatus("x", 500, "boom")
	}
	g.Register(provider.KindText, provider.OpenAI, b.Factory())

	_, err := g.GenerateText(context.Background(), textCfg(provider.OpenAI, "m"), "hi")
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Zero(t, clock.elapsed)

	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "openai", e.Provider)
}

func TestGateway_RateLimitSurfacesAfterExhaustion(t *testing.T) {
	g := newGateway(&fakeClock{})
	b := mock.New(provider.Groq)
	b.TextFunc = func(ctx context.Context, req llm.TextRequest) (string, error) {
		return "", &apperr.Error{Kind: apperr.KindRateLimit}
	}
	g.Register(provider.KindText, provider.Groq, b.Factory())

	_, err := g.GenerateText(context.Background(), textCfg(provider.Groq, "m"), "hi")
	assert.ErrorIs(t, err, apperr.ErrRateLimit)
	assert.Len(t, b.TextCalls(), 3)
}

func TestGateway_TimeoutIsDistinct(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	g := newGateway(nil)
	b := mock.New(provider.OpenAI)
	b.TextFunc = func(ctx context.Context, req llm.TextRequest) (string, error) {
		httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
		_, err := llm.Send(ctx, ts.Client(), httpReq, provider.OpenAI)
		return "", err
	}
	g.Register(provider.KindText, provider.OpenAI, b.Factory())

	_, err := g.GenerateText(context.Background(), textCfg(provider.OpenAI, "m"), "hi", llm.WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.NotErrorIs(t, err, apperr.ErrTransport)
}

func TestGateway_JSONModeEmulation(t *testing.T) {
	schema := llm.Object(map[string]*llm.Schema{"a": llm.Integer("")}, "a")

	t.Run("chat provider gets instruction", func(t *testing.T) {
		g := newGateway(nil)
		b := mock.New(provider.OpenRouter)
		g.Register(provider.KindText, provider.OpenRouter, b.Factory())
		_, err := g.GenerateJSON(context.Background(), textCfg(provider.OpenRouter, "m"), "give json", schema)
		require.NoError(t, err)
		req := b.TextCalls()[0]
		assert.True(t, llm.IsJSONOnlyPrompt(req.Prompt))
		assert.Nil(t, req.Schema)
		assert.True(t, req.JSON)
	})
	t.Run("structured provider gets schema", func(t *testing.T) {
		g := newGateway(nil)
		b := mock.New(provider.Gemini)
		b.Structured = true
		g.Register(provider.KindText, provider.Gemini, b.Factory())
		_, err := g.GenerateJSON(context.Background(), provider.Config{Provider: provider.Gemini, APIKey: "k"}, "give json", schema)
		require.NoError(t, err)
		req := b.TextCalls()[0]
		assert.Equal(t, "give json", req.Prompt)
		assert.Same(t, schema, req.Schema)
		assert.Equal(t, "gemini-2.5-flash", req.Model)
	})
}

func TestGateway_UnsupportedProviders(t *testing.T) {
	g := newGateway(nil)
	_, err := g.GenerateImage(context.Background(), provider.Config{Provider: provider.Stability, APIKey: "k"}, "p", llm.ImageSettings{})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedProvider)

	_, err = g.GenerateImage(context.Background(), provider.Config{Provider: provider.Pollinations}, "p", llm.ImageSettings{})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedProvider, "implemented but not registered")
}

func TestGateway_EmptyImageIsMalformed(t *testing.T) {
	g := newGateway(nil)
	b := mock.New(provider.Pollinations)
	b.ImageFunc = func(ctx context.Context, req llm.ImageRequest) (*llm.Image, error) {
		return &llm.Image{}, nil
	}
	g.Register(provider.KindImage, provider.Pollinations, b.Factory())
	_, err := g.GenerateImage(context.Background(), provider.Config{Provider: provider.Pollinations}, "p", llm.ImageSettings{})
	assert.ErrorIs(t, err, apperr.ErrMalformedResponse)
}

func TestGateway_ConcurrencyCapPerProvider(t *testing.T) {
	g := llm.NewGateway(llm.Options{Timeout: time.Second, MaxConcurrent: 2})
	b := mock.New(provider.Pollinations)
	var inFlight, peak int32
	b.ImageFunc = func(ctx context.Context, req llm.ImageRequest) (*llm.Image, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &llm.Image{Data: mock.PNG(1, 1), MIMEType: "image/png"}, nil
	}
	g.Register(provider.KindImage, provider.Pollinations, b.Factory())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.GenerateImage(context.Background(), provider.Config{Provider: provider.Pollinations}, "p", llm.ImageSettings{})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Len(t, b.ImageCalls(), 6)
}

func TestImagePrompt(t *testing.T) {
	p := llm.ImagePrompt("A lighthouse at dusk", llm.ImageSettings{AspectRatio: llm.AspectSquare, Style: "watercolor", NegativePrompt: "people"})
	assert.Contains(t, p, "A lighthouse at dusk")
	assert.Contains(t, p, "watercolor")
	assert.Contains(t, p, "1:1")
	assert.Contains(t, p, "Avoid: people")
}
