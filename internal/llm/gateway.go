package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/provider"
	"github.com/jo-hoe/postpainter/internal/retry"
)

const (
	DefaultTimeout       = 90 * time.Second
	DefaultMaxConcurrent = 2
)

// Options configure a Gateway.
type Options struct {
	Timeout           time.Duration
	Retry             retry.Policy // Retryable is forced to rate-limit errors
	MaxConcurrent     int          // in-flight calls per provider
	RequestsPerMinute int          // 0 disables pacing
	Logger            *slog.Logger
}

// Gateway routes calls to registered backends and owns timeouts, retries
// and per-provider concurrency.
type Gateway struct {
	opts      Options
	log       *slog.Logger
	mu        sync.Mutex
	factories map[factoryKey]Factory
	sems      map[provider.ID]*semaphore.Weighted
	limiters  map[provider.ID]*rate.Limiter
}

type factoryKey struct {
	kind provider.Kind
	id   provider.ID
}

// NewGateway creates a gateway without any backends; call Register for each variant.
func NewGateway(opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	opts.Retry.Retryable = apperr.IsRetryable
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		opts:      opts,
		log:       log,
		factories: make(map[factoryKey]Factory),
		sems:      make(map[provider.ID]*semaphore.Weighted),
		limiters:  make(map[provider.ID]*rate.Limiter),
	}
}

// Register binds a factory to a provider variant.
func (g *Gateway) Register(kind provider.Kind, id provider.ID, f Factory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.factories[factoryKey{kind, id}] = f
}

// CallOption tweaks a single gateway call.
type CallOption func(*callOptions)

type callOptions struct {
	maxTokens   int
	timeout     time.Duration
	temperature *float32
	system      string
}

func WithMaxTokens(n int) CallOption { return func(o *callOptions) { o.maxTokens = n } }

// WithTimeout overrides the gateway timeout for latency-sensitive calls.
func WithTimeout(d time.Duration) CallOption { return func(o *callOptions) { o.timeout = d } }

func WithTemperature(t float32) CallOption { return func(o *callOptions) { o.temperature = &t } }

func WithSystem(s string) CallOption { return func(o *callOptions) { o.system = s } }

func (g *Gateway) collect(opts []CallOption) callOptions {
	co := callOptions{timeout: g.opts.Timeout}
	for _, o := range opts {
		o(&co)
	}
	if co.timeout <= 0 {
		co.timeout = g.opts.Timeout
	}
	return co
}

// GenerateText returns the text completion for prompt.
func (g *Gateway) GenerateText(ctx context.Context, cfg provider.Config, prompt string, opts ...CallOption) (string, error) {
	cfg.Kind = provider.KindText
	co := g.collect(opts)
	b, err := g.backend(cfg)
	if err != nil {
		return "", err
	}
	tg, ok := b.(TextGenerator)
	if !ok {
		return "", unsupported(cfg, "text generation")
	}
	req := TextRequest{Model: cfg.EffectiveModel(), System: co.system, Prompt: prompt, MaxTokens: co.maxTokens, Temperature: co.temperature}
	return invoke(ctx, g, cfg, co, func(ctx context.Context) (string, error) {
		return tg.GenerateText(ctx, req)
	})
}

// GenerateJSON returns a JSON-shaped reply. Backends without native structured
// output get an explicit JSON-only instruction; callers still run ExtractJSON.
func (g *Gateway) GenerateJSON(ctx context.Context, cfg provider.Config, prompt string, schema *Schema, opts ...CallOption) (string, error) {
	cfg.Kind = provider.KindText
	co := g.collect(opts)
	b, err := g.backend(cfg)
	if err != nil {
		return "", err
	}
	tg, ok := b.(TextGenerator)
	if !ok {
		return "", unsupported(cfg, "text generation")
	}
	req := TextRequest{Model: cfg.EffectiveModel(), System: co.system, MaxTokens: co.maxTokens, Temperature: co.temperature, JSON: true}
	if hasStructuredOutput(b) {
		req.Prompt = prompt
		req.Schema = schema
	} else {
		req.Prompt = prompt + jsonOnlyInstruction
	}
	return invoke(ctx, g, cfg, co, func(ctx context.Context) (string, error) {
		return tg.GenerateText(ctx, req)
	})
}

// GenerateImage asks the configured image provider for one image.
func (g *Gateway) GenerateImage(ctx context.Context, cfg provider.Config, prompt string, settings ImageSettings, opts ...CallOption) (*Image, error) {
	cfg.Kind = provider.KindImage
	co := g.collect(opts)
	b, err := g.backend(cfg)
	if err != nil {
		return nil, err
	}
	ig, ok := b.(ImageGenerator)
	if !ok {
		return nil, unsupported(cfg, "image generation")
	}
	req := ImageRequest{Model: cfg.EffectiveModel(), Prompt: prompt, Settings: settings}
	img, err := invoke(ctx, g, cfg, co, func(ctx context.Context) (*Image, error) {
		return ig.GenerateImage(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, &apperr.Error{Kind: apperr.KindMalformedResponse, Provider: string(cfg.Provider), Message: "no image data in response"}
	}
	return img, nil
}

// AnalyzeImage sends an image plus prompt to a vision-capable text provider.
func (g *Gateway) AnalyzeImage(ctx context.Context, cfg provider.Config, prompt string, image []byte, mimeType string, schema *Schema, opts ...CallOption) (string, error) {
	cfg.Kind = provider.KindText
	co := g.collect(opts)
	if len(image) == 0 {
		return "", apperr.Validation("image is empty")
	}
	b, err := g.backend(cfg)
	if err != nil {
		return "", err
	}
	ia, ok := b.(ImageAnalyzer)
	if !ok {
		return "", unsupported(cfg, "vision analysis")
	}
	req := VisionRequest{Model: cfg.EffectiveModel(), Image: image, MIMEType: mimeType, MaxTokens: co.maxTokens, JSON: schema != nil}
	if schema != nil && hasStructuredOutput(b) {
		req.Prompt = prompt
		req.Schema = schema
	} else if schema != nil {
		req.Prompt = prompt + jsonOnlyInstruction
	} else {
		req.Prompt = prompt
	}
	return invoke(ctx, g, cfg, co, func(ctx context.Context) (string, error) {
		return ia.AnalyzeImage(ctx, req)
	})
}

// backend validates cfg and builds its backend. No network is touched.
func (g *Gateway) backend(cfg provider.Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := cfg.Spec()
	if err != nil {
		return nil, err
	}
	if !spec.Implemented {
		return nil, unsupported(cfg, "")
	}
	g.mu.Lock()
	f, ok := g.factories[factoryKey{cfg.Kind, cfg.Provider}]
	g.mu.Unlock()
	if !ok {
		return nil, unsupported(cfg, "")
	}
	b, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("init %s backend: %w", cfg.Provider, err)
	}
	return b, nil
}

func (g *Gateway) semaphore(id provider.ID) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sems[id]
	if !ok {
		s = semaphore.NewWeighted(int64(g.opts.MaxConcurrent))
		g.sems[id] = s
	}
	return s
}

func (g *Gateway) limiter(id provider.ID) *rate.Limiter {
	if g.opts.RequestsPerMinute <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.opts.RequestsPerMinute)), 1)
		g.limiters[id] = l
	}
	return l
}

// invoke runs fn under the provider's concurrency cap, pacing, per-attempt
// timeout and the rate-limit retry policy.
func invoke[T any](ctx context.Context, g *Gateway, cfg provider.Config, co callOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := g.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.log.Warn("provider rate limited, backing off", "provider", cfg.Provider, "attempt", attempt, "delay", delay)
	}
	sem := g.semaphore(cfg.Provider)
	lim := g.limiter(cfg.Provider)

	attempt := func(ctx context.Context) (T, error) {
		var zero T
		if err := sem.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer sem.Release(1)
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return zero, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, co.timeout)
		defer cancel()
		v, err := fn(callCtx)
		if err != nil {
			return zero, classify(ctx, callCtx, cfg, co.timeout, err)
		}
		return v, nil
	}
	return retry.Do(ctx, policy, attempt)
}

func classify(parent, call context.Context, cfg provider.Config, timeout time.Duration, err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		if e.Provider == "" {
			e.Provider = string(cfg.Provider)
		}
		return err
	}
	if parent.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(call.Err(), context.DeadlineExceeded)) {
		return &apperr.Error{
			Kind:     apperr.KindTimeout,
			Provider: string(cfg.Provider),
			Message:  fmt.Sprintf("no response within %s", timeout),
			Err:      err,
		}
	}
	return err
}

func unsupported(cfg provider.Config, capability string) error {
	msg := "provider is not implemented"
	if capability != "" {
		msg = "provider does not support " + capability
	}
	return &apperr.Error{Kind: apperr.KindUnsupportedProvider, Provider: string(cfg.Provider), Message: msg}
}

func hasStructuredOutput(b Backend) bool {
	s, ok := b.(StructuredOutput)
	return ok && s.StructuredOutput()
}

// IsJSONOnlyPrompt reports whether prompt carries the emulated JSON-mode instruction.
func IsJSONOnlyPrompt(prompt string) bool {
	return strings.HasSuffix(prompt, jsonOnlyInstruction)
}
