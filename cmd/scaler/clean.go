package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/scaler/pkg/janitor"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove nodes that have been down longer than the retention period",
	Long: `Clean lists every node in the swarm and removes those whose status is
down and whose last update is older than --retention.

Without --schedule the janitor runs once and exits. With --schedule it
keeps running and cleans on the given cron expression.

Examples:
  # Remove nodes down for more than a day
  scaler clean

  # Every hour, remove nodes down for more than six hours
  scaler clean --schedule "@every 1h" --retention 6h`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().String("schedule", "", "Cron schedule (empty runs once)")
	cleanCmd.Flags().Duration("retention", janitor.DefaultRetention, "How long a node must be down before it is removed")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	broker := startBroker(ctx)
	defer broker.Stop()

	j := janitor.New(client, broker, janitor.Options{
		Retention: cfg.Janitor.Retention,
		DryRun:    cfg.DryRun,
		Retry:     cfg.RetryPolicy(),
	})

	if cfg.Janitor.Schedule != "" {
		return j.Schedule(ctx, cfg.Janitor.Schedule)
	}

	report, err := j.Clean(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Evaluated %d nodes: %d removed, %d failed, %d skipped\n",
		report.Evaluated, len(report.Removed), len(report.Failed), len(report.Skipped))
	for _, id := range report.Removed {
		fmt.Fprintf(out, "  ✓ %s\n", id)
	}
	for _, id := range report.Failed {
		fmt.Fprintf(out, "  ✗ %s\n", id)
	}
	return err
}
