// Package analyzer derives image briefs, alt text and placement decisions
// for posts using the provider gateway.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/postpainter/internal/common"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
	"github.com/jo-hoe/postpainter/internal/retry"
)

// Generator is the slice of the provider gateway the analyzer uses.
type Generator interface {
	GenerateText(ctx context.Context, cfg provider.Config, prompt string, opts ...llm.CallOption) (string, error)
	GenerateJSON(ctx context.Context, cfg provider.Config, prompt string, schema *llm.Schema, opts ...llm.CallOption) (string, error)
	AnalyzeImage(ctx context.Context, cfg provider.Config, prompt string, image []byte, mimeType string, schema *llm.Schema, opts ...llm.CallOption) (string, error)
}

var _ Generator = (*llm.Gateway)(nil)

const (
	DefaultBatchDelay         = time.Second
	DefaultPlacementTimeout   = 15 * time.Second
	DefaultPlacementMaxTokens = 10
)

// Options tune batching and placement calls.
type Options struct {
	BatchSize int
	// BatchDelay separates batch requests; zero means one second, negative disables it.
	BatchDelay         time.Duration
	PlacementTimeout   time.Duration
	PlacementMaxTokens int
	// Sleep waits between batches; nil uses a real timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Analyzer is bound to one text provider configuration for a run.
type Analyzer struct {
	gen  Generator
	text provider.Config
	opts Options
	log  *slog.Logger
}

func New(gen Generator, text provider.Config, opts Options) *Analyzer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = common.DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	} else if opts.BatchDelay == 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.PlacementTimeout <= 0 {
		opts.PlacementTimeout = DefaultPlacementTimeout
	}
	if opts.PlacementMaxTokens <= 0 {
		opts.PlacementMaxTokens = DefaultPlacementMaxTokens
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepContext
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	text.Kind = provider.KindText
	return &Analyzer{gen: gen, text: text, opts: opts, log: log}
}

// Provider names the text provider for messages.
func (a *Analyzer) Provider() string { return string(a.text.Provider) }

// BatchError reports the batch whose request failed.
type BatchError struct {
	Batch   int // 1-based
	PostIDs []int64
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("brief batch %d (%d posts): %v", e.Batch, len(e.PostIDs), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
