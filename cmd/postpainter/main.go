package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	appcfg "github.com/jo-hoe/postpainter/internal/config"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "postpainter",
	Short: "Generate and place AI imagery on WordPress posts",
	Long: `postpainter crawls a WordPress site, writes an image brief and alt text for
every post that lacks imagery, generates the image, uploads it and places it
inside the post.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $"+appcfg.EnvConfigPath+" or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config is expanded")
}

// loadConfig loads the dotenv file, the YAML config and sets the default logger.
func loadConfig() (*appcfg.Config, *slog.Logger, error) {
	if err := appcfg.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := appcfg.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Server.LogLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
