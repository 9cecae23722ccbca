package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/scaler/pkg/api"
	"github.com/cuemby/scaler/pkg/cache"
	"github.com/cuemby/scaler/pkg/config"
	"github.com/cuemby/scaler/pkg/janitor"
	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/metrics"
	"github.com/cuemby/scaler/pkg/reconciler"
	"github.com/cuemby/scaler/pkg/scaler"
	"github.com/cuemby/scaler/pkg/swarm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync service configurations and react to cluster events",
	Long: `Run lists all services, caches the scaler configuration of those that
carry scaler.* labels, then follows the Docker event stream. Whenever a
worker node becomes ready or goes down every enabled service is rescaled;
whenever a service is created or updated its configuration is refreshed.

With --janitor-schedule the node janitor runs in the same process.

Examples:
  # Run against the local engine
  scaler run

  # Preview decisions without scaling
  scaler run --dry-run --log-level debug

  # Also remove nodes that have been down for two days, every night
  scaler run --janitor-schedule "0 3 * * *" --retention 48h`,
	RunE: runScaler,
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("sweep-workers", 4, "Services reconciled in parallel during a sweep")
	cmd.Flags().Bool("reconcile-on-sync", true, "Rescale all enabled services after every sync")
	cmd.Flags().String("metrics-addr", ":9090", "Address for /metrics and health endpoints (empty disables)")
	cmd.Flags().String("janitor-schedule", "", "Cron schedule for the node janitor (empty disables)")
	cmd.Flags().Duration("retention", janitor.DefaultRetention, "How long a node must be down before the janitor removes it")
}

func runScaler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	metrics.DefaultHealth.SetVersion(Version)
	broker := startBroker(ctx)
	defer broker.Stop()

	collector := metrics.NewCollector(client, cfg.Metrics.CollectInterval, cfg.APITimeout)
	collector.Start()
	defer collector.Stop()

	retry := cfg.RetryPolicy()
	engine := scaler.NewEngine(client, broker, scaler.Options{
		DryRun: cfg.DryRun,
		Retry:  retry,
	})
	recon := reconciler.NewReconciler(client, cache.New(), engine, broker, reconciler.Options{
		SweepWorkers:    cfg.SweepWorkers,
		ReconcileOnSync: cfg.ReconcileOnSync,
		Retry:           retry,
	})

	logger.Info().
		Str("version", Version).
		Bool("dry_run", cfg.DryRun).
		Int("sweep_workers", cfg.SweepWorkers).
		Msg("starting scaler")

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := api.NewServer(cfg.Metrics.Addr)
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		if err := recon.Run(gctx); err != nil {
			return fmt.Errorf("reconciler failed: %w", err)
		}
		return nil
	})

	if cfg.Janitor.Schedule != "" {
		j := janitor.New(client, broker, janitor.Options{
			Retention: cfg.Janitor.Retention,
			DryRun:    cfg.DryRun,
			Retry:     retry,
		})
		g.Go(func() error { return j.Schedule(gctx, cfg.Janitor.Schedule) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scaler stopped with error")
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// connect creates the swarm client and waits for the engine to answer
func connect(ctx context.Context, cfg *config.Config) (*swarm.Client, error) {
	client, err := swarm.NewClient(swarm.Config{Host: cfg.Docker.Host})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.APITimeout)
	defer cancel()
	start := time.Now()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, err
	}
	logger := log.WithComponent("main")
	logger.Debug().Dur("latency", time.Since(start)).Msg("connected to docker engine")
	return client, nil
}
