package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aihub/internal/api"
	"aihub/internal/metrics"
	"aihub/internal/runner"
)

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health monitor and the HTTP API",
		Long:  "Probes every backend on the configured schedule and serves the HTTP API until Ctrl+C.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.API.Port = port
				cfg.API.Enabled = true
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			group := runner.NewGroup(logger)
			group.OnClose("app", a.Close)
			group.Go("health", a.monitor.Run)
			if a.telegram != nil {
				group.Go("telegram", a.telegram.Run)
			}
			if a.store != nil {
				group.Go("service-log", func(ctx context.Context) error {
					changes, cancel := a.store.Subscribe()
					defer cancel()
					for {
						select {
						case <-ctx.Done():
							return nil
						case ch, ok := <-changes:
							if !ok {
								return nil
							}
							logger.Debug("service changed", "op", ch.Op, "service", ch.Service.ID, "status", ch.Service.Status)
						}
					}
				})
				if days := cfg.Store.ProbeRetentionDays; days > 0 {
					group.Go("probe-prune", func(ctx context.Context) error {
						return a.pruneProbes(ctx, time.Duration(days)*24*time.Hour)
					})
				}
			}

			if cfg.API.Enabled {
				apiCfg := api.Config{
					Host:        cfg.API.Host,
					Port:        cfg.API.Port,
					APIKey:      cfg.API.APIKey,
					Sessions:    a.sessions,
					Health:      a.monitor,
					Models:      a.registry.Ollama(),
					Images:      a.images(),
					Transcriber: a.transcriber(),
					Exporter:    a.exporter,
					Events:      a.hub,
					Logger:      logger,
				}
				if a.store != nil {
					apiCfg.Services = a.store
					apiCfg.Conversations = a.store
				}
				if cfg.Metrics.Enabled {
					apiCfg.Metrics = metrics.Collector
					apiCfg.MetricsPath = cfg.Metrics.Endpoint
				}
				group.Go("api", api.New(apiCfg).Run)
			} else {
				logger.Info("api disabled, running health monitor only")
			}

			logger.Info("aihub started. Press Ctrl+C to stop.", "version", version)
			return group.Run(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "serve the API on this port (enables the API)")
	return cmd
}
