package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/scaler/pkg/events"
	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/metrics"
	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// DefaultRetention is how long a node must have been down before removal
const DefaultRetention = 24 * time.Hour

// ErrAlreadyRunning is returned by Clean while another run is in progress
var ErrAlreadyRunning = errors.New("janitor run already in progress")

// Options configures a Janitor
type Options struct {
	// Retention is the minimum time since a down node's last update
	Retention time.Duration

	// DryRun reports eligible nodes without removing them
	DryRun bool

	Retry orchestrator.RetryPolicy
}

// Report summarises a single janitor run
type Report struct {
	Evaluated int
	Removed   []string
	Failed    []string
	Skipped   []string
}

// Janitor removes nodes that have been down for longer than the retention
// period
type Janitor struct {
	client    orchestrator.Client
	publisher events.Publisher
	opts      Options
	now       func() time.Time
	running   sync.Mutex
	logger    zerolog.Logger
}

// New creates a new janitor
func New(client orchestrator.Client, publisher events.Publisher, opts Options) *Janitor {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Janitor{
		client:    client,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
		logger:    log.WithComponent("janitor"),
	}
}

// Outdated reports whether node is down and was last updated more than
// retention before now
func Outdated(node *types.Node, now time.Time, retention time.Duration) bool {
	if node.Status != types.NodeStatusDown {
		return false
	}
	return now.Sub(node.UpdatedAt) > retention
}

// Clean lists every node and removes the outdated ones. A failed removal
// does not stop the others; all failures are returned together.
func (j *Janitor) Clean(ctx context.Context) (Report, error) {
	if !j.running.TryLock() {
		return Report{}, ErrAlreadyRunning
	}
	defer j.running.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.JanitorDuration)

	var nodes []*types.Node
	err := j.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		nodes, err = j.client.ListNodes(ctx, orchestrator.ListNodesOptions{})
		return err
	})
	if err != nil {
		metrics.DefaultHealth.Set(metrics.ComponentJanitor, false, err.Error())
		return Report{}, fmt.Errorf("failed to list nodes: %w", err)
	}

	now := j.now()
	report := Report{Evaluated: len(nodes)}
	var errs error

	for _, node := range nodes {
		if !Outdated(node, now, j.opts.Retention) {
			continue
		}
		logger := j.logger.With().
			Str("node_id", node.ID).
			Str("hostname", node.Hostname).
			Dur("down_for", now.Sub(node.UpdatedAt)).
			Logger()

		if j.opts.DryRun {
			logger.Info().Msg("dry run: would remove outdated node")
			metrics.NodesRemoved.WithLabelValues(metrics.ResultDryRun).Inc()
			report.Skipped = append(report.Skipped, node.ID)
			continue
		}

		err := j.opts.Retry.Once(ctx, func(ctx context.Context) error {
			return j.client.RemoveNode(ctx, node.ID)
		})
		switch {
		case orchestrator.IsNotFound(err):
			logger.Debug().Msg("outdated node already gone")
			report.Skipped = append(report.Skipped, node.ID)
		case err != nil:
			logger.Error().Err(err).Msg("failed to remove outdated node")
			metrics.NodesRemoved.WithLabelValues(metrics.ResultFailure).Inc()
			j.publisher.Publish(events.NodeRemoveFailed(node.ID, node.Hostname, err))
			report.Failed = append(report.Failed, node.ID)
			errs = multierr.Append(errs, fmt.Errorf("failed to remove node %s: %w", node.ID, err))
		default:
			logger.Info().Msg("removed outdated node")
			metrics.NodesRemoved.WithLabelValues(metrics.ResultSuccess).Inc()
			j.publisher.Publish(events.NodeRemoved(node.ID, node.Hostname))
			report.Removed = append(report.Removed, node.ID)
		}
	}

	if errs != nil {
		metrics.DefaultHealth.Set(metrics.ComponentJanitor, false, errs.Error())
	} else {
		metrics.DefaultHealth.Set(metrics.ComponentJanitor, true, "")
	}

	j.logger.Info().
		Int("evaluated", report.Evaluated).
		Int("removed", len(report.Removed)).
		Int("failed", len(report.Failed)).
		Dur("duration", timer.Duration()).
		Msg("janitor run finished")
	return report, errs
}

// ValidateSchedule checks a cron expression in the format Schedule accepts
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return nil
}

// Schedule runs Clean on the cron spec until ctx is cancelled. Runs that
// would overlap a still running one are skipped. Schedule blocks and waits
// for an in-flight run before returning.
func (j *Janitor) Schedule(ctx context.Context, spec string) error {
	logger := cronLogger{logger: j.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		if _, err := j.Clean(ctx); err != nil && !errors.Is(err, context.Canceled) {
			j.logger.Error().Err(err).Msg("scheduled janitor run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}

	j.logger.Info().Str("schedule", spec).Dur("retention", j.opts.Retention).Msg("janitor scheduled")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info().Msg("janitor stopped")
	return nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
