package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Miles0sage/openclaw-assistant/internal/infra/config"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/logger"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/tracer"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "openclaw-router",
		Short:         "Deterministic task router for specialist agents",
		Long:          "openclaw-router scores a message against agent keyword tables and complexity signals and picks the agent that should handle it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to the config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logger.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newRouteCmd(opts),
		newStatsCmd(opts),
		newAgentsCmd(opts),
		newEncryptCmd(),
	)
	return root
}

// env is what a command gets after config, logging and tracing are set up.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	shutdown func()
}

func setup(ctx context.Context, opts *globalOptions) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logger.Level = opts.logLevel
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	return &env{
		cfg:    cfg,
		logger: log,
		shutdown: func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
			_ = closeLog()
		},
	}, nil
}
