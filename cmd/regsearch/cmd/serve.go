package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/regsearch/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval API over HTTP",
		Long: `Serve the retrieval engine over HTTP until interrupted.

Endpoints:
  POST /v1/retrieve   parsed query in, ranked passages out
  GET  /healthz       per-tier circuit state
  GET  /metrics       Prometheus metrics`,
		Example: `  regsearch serve
  regsearch serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, addr string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	logger, err := root.configureLogging(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := openRuntime(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("serving",
		slog.String("addr", cfg.Server.Addr),
		slog.Int("tiers", len(rt.tiers.Tiers)),
		slog.Bool("enrichment", rt.tiers.Enrichment != nil),
		slog.Bool("cache", cfg.Cache.Enabled))
	return server.New(rt.engine, rt.collector, cfg.Server, logger).Run(ctx)
}
