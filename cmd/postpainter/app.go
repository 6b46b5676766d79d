package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jo-hoe/postpainter/internal/analyzer"
	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/cms/wordpress"
	appcfg "github.com/jo-hoe/postpainter/internal/config"
	"github.com/jo-hoe/postpainter/internal/crawl"
	"github.com/jo-hoe/postpainter/internal/jobs"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/llm/gemini"
	"github.com/jo-hoe/postpainter/internal/llm/openaicompat"
	"github.com/jo-hoe/postpainter/internal/llm/pollinations"
	"github.com/jo-hoe/postpainter/internal/processor"
	"github.com/jo-hoe/postpainter/internal/provider"
	"github.com/jo-hoe/postpainter/internal/retry"
	"github.com/jo-hoe/postpainter/internal/storage"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *appcfg.Config
	log      *slog.Logger
	store    *jobs.SQLiteStore
	wp       *wordpress.Client
	gateway  *llm.Gateway
	crawler  *crawl.Crawler
	analyzer *analyzer.Analyzer
	pipeline *processor.Pipeline
	runner   *processor.Runner
}

func newApp(ctx context.Context, cfg *appcfg.Config, logger *slog.Logger, observers ...processor.Observer) (*app, error) {
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, h := range missing {
			names[i] = string(h)
		}
		return nil, apperr.Validation("missing API keys for: %s", strings.Join(names, ", "))
	}

	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gw := newGateway(cfg, logger)
	wp := wordpress.New()
	creds := cfg.CMSCredentials()

	an := analyzer.New(gw, cfg.TextProvider(), analyzer.Options{
		BatchSize:        cfg.Pipeline.BatchSize,
		BatchDelay:       cfg.Pipeline.BatchDelay,
		PlacementTimeout: cfg.Pipeline.PlacementTimeout,
		Logger:           logger,
	})

	deps := processor.Deps{
		Logger:        logger,
		CMS:           wp,
		Fetcher:       wp,
		Images:        gw,
		Analyzer:      an,
		Store:         store,
		Observers:     observers,
		Credentials:   creds,
		ImageProvider: cfg.ImageProvider(),
		ImageSettings: cfg.ImageSettings,
		Featured:      cfg.Pipeline.FeaturedPolicy,
	}
	if cfg.Archive.Enabled {
		archiver, err := storage.NewS3Archiver(ctx, storage.S3Options{
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		deps.Archiver = archiver
	}
	pipeline := processor.NewPipeline(deps)

	crawler := crawl.New(wp, cfg.Pipeline.PageSize, logger)
	runner := processor.NewRunner(logger, crawler, an, pipeline, store, creds, processor.RunnerOptions{
		Concurrency:     cfg.Pipeline.Concurrency,
		CallbackRetries: cfg.Pipeline.CallbackRetries,
		CallbackBackoff: cfg.Pipeline.CallbackBackoff,
		ShutdownGrace:   cfg.Server.ShutdownGrace,
	})

	return &app{
		cfg:      cfg,
		log:      logger,
		store:    store,
		wp:       wp,
		gateway:  gw,
		crawler:  crawler,
		analyzer: an,
		pipeline: pipeline,
		runner:   runner,
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

// newGateway registers every implemented provider variant.
func newGateway(cfg *appcfg.Config, logger *slog.Logger) *llm.Gateway {
	gw := llm.NewGateway(llm.Options{
		Timeout: cfg.Gateway.Timeout,
		Retry: retry.Policy{
			Attempts:     cfg.Gateway.RetryAttempts,
			InitialDelay: cfg.Gateway.RetryInitialDelay,
			Multiplier:   2,
		},
		MaxConcurrent:     cfg.Gateway.MaxConcurrent,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		Logger:            logger,
	})
	client := &http.Client{}
	for _, kind := range []provider.Kind{provider.KindText, provider.KindImage} {
		for _, spec := range provider.All(kind) {
			if !spec.Implemented {
				continue
			}
			switch spec.ID {
			case provider.Gemini:
				gw.Register(kind, spec.ID, gemini.Factory(client, spec.BaseURL))
			case provider.Pollinations:
				gw.Register(kind, spec.ID, pollinations.Factory(client, spec.BaseURL))
			default:
				gw.Register(kind, spec.ID, openaicompat.Factory(spec.ID, client, spec.BaseURL))
			}
		}
	}
	return gw
}
