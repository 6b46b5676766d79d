package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/processor"
	"github.com/jo-hoe/postpainter/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose runs over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("%s", apperr.UserMessage(err))
	}
	defer func() { _ = a.Close() }()

	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()
	svc := &server.Service{
		Log:    logger,
		Cfg:    cfg,
		Store:  a.store,
		Runner: a.runner,
		Defaults: processor.RunRequest{
			OnlyMissing: cfg.Pipeline.OnlyMissingImagery(),
			MaxPosts:    cfg.Pipeline.MaxPosts,
		},
		BaseContext: runCtx,
	}
	httpSrv := server.NewHTTPServer(svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// In-flight runs stop before their next stage; unstarted posts stay pending.
	stopRuns()
	svc.Wait()
	logger.Info("server stopped")
	return nil
}
