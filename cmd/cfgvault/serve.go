package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpx "github.com/dropDatabas3/cfgvault/internal/http"
	"github.com/dropDatabas3/cfgvault/internal/metrics"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/rate"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API HTTP y el loop de sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if err := metrics.Register(reg); err != nil {
				return err
			}

			limiter, err := rate.New(ctx, rate.Config{
				Max:       cfg.Server.RateLimit.Max,
				Window:    cfg.RateLimitWindow(),
				RedisAddr: cfg.Server.RateLimit.RedisAddr,
			})
			if err != nil {
				return err
			}
			if c, ok := limiter.(io.Closer); ok {
				defer c.Close()
			}

			deps := httpx.Deps{
				Config:   a.sources,
				History:  a.vcs,
				Limiter:  limiter,
				Registry: reg,
				Gatherer: reg,
				Logger:   log,
			}
			if a.sync != nil {
				deps.Sync = a.sync
				if cfg.SyncInterval() > 0 {
					if err := a.sync.Start(ctx); err != nil {
						return err
					}
				}
			}
			h, err := httpx.NewRouter(deps)
			if err != nil {
				return err
			}

			go a.watchEvents(ctx)

			serveErr := httpx.Serve(ctx, cfg.Server.Addr, h, log)
			if err := a.saveState(); err != nil {
				log.Error("vcs state save failed", logger.Err(err))
				if serveErr == nil {
					serveErr = err
				}
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Dirección HTTP (pisa server.addr)")
	return cmd
}

