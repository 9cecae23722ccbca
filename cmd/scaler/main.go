package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/scaler/pkg/config"
	"github.com/cuemby/scaler/pkg/events"
	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scaler",
	Short: "Scale Docker Swarm services with the number of worker nodes",
	Long: `Scaler watches a Docker Swarm cluster and keeps the replica count of
labelled services proportional to the number of ready worker nodes.

Services opt in with labels:
  scaler.enabled=true       manage this service
  scaler.per_node=0.5       replicas per active worker, rounded up
  scaler.node_filter=zone=eu  only count matching nodes

Running scaler without a subcommand is the same as "scaler run".`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runScaler,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Scaler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Log in JSON format")
	flags.String("docker-host", "", "Docker daemon address (defaults to DOCKER_HOST)")
	flags.Duration("api-timeout", orchestrator.DefaultTimeout, "Timeout of each orchestrator API call")
	flags.Bool("dry-run", false, "Log decisions without changing the cluster")

	addRunFlags(rootCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Scaler version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// loadConfig reads the configuration for cmd and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      cfg.LogLevel(),
		JSONOutput: cfg.Log.JSON,
	})
	return cfg, nil
}

// startBroker starts an event broker whose events are written to the log
// until ctx is done
func startBroker(ctx context.Context) *events.Broker {
	broker := events.NewBroker()
	broker.Start()

	sub := broker.Subscribe()
	logger := log.WithComponent("events")
	go func() {
		for {
			select {
			case event := <-sub:
				e := logger.Info().
					Str("event_id", event.ID).
					Str("type", string(event.Type))
				for k, v := range event.Metadata {
					e = e.Str(k, v)
				}
				e.Msg(event.Message)
			case <-ctx.Done():
				broker.Unsubscribe(sub)
				return
			}
		}
	}()
	return broker
}
