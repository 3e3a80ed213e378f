package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Miles0sage/openclaw-assistant/internal/adapter/gateway"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/config"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/logger"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP routing API with background housekeeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer e.shutdown()
			if addr != "" {
				e.cfg.Gateway.Addr = addr
			}
			return serve(ctx, e)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override gateway.addr")
	return cmd
}

func serve(ctx context.Context, e *env) error {
	rt, err := buildRuntime(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			e.logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	if err := rt.start(ctx); err != nil {
		return err
	}

	if !e.cfg.Gateway.Enabled {
		e.logger.Info("gateway disabled, running housekeeping only")
		<-ctx.Done()
		return nil
	}

	deps := gateway.HandlerDeps{Router: rt.router, Registry: rt.registry, Version: version}
	if rt.audit != nil {
		deps.Audit = rt.audit
	}
	srv := gateway.NewServer(gatewayConfig(e.cfg.Gateway), deps, logger.Component(e.logger, "gateway"))
	return srv.Start(ctx)
}

func gatewayConfig(c config.GatewayConfig) gateway.Config {
	tokens := make([]string, 0, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		tokens = append(tokens, t.Token)
	}
	return gateway.Config{
		Addr:         c.Addr,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		MaxBodyBytes: c.MaxBodyBytes,
		RateLimit:    c.RateLimit,
		RateBurst:    c.RateBurst,
		Tokens:       tokens,
	}
}
