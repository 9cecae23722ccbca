package scaler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cuemby/scaler/pkg/events"
	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/metrics"
	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNotReplicated is reported for services without a replica count
var ErrNotReplicated = errors.New("service is not in replicated mode")

// Action describes what Reconcile did
type Action string

const (
	ActionNone     Action = "none"     // already converged
	ActionDisabled Action = "disabled" // config.Enabled is false
	ActionSkipped  Action = "skipped"  // service cannot be scaled
	ActionScaled   Action = "scaled"
	ActionDryRun   Action = "dry_run"
	ActionFailed   Action = "failed"
)

// Result is the outcome of one reconciliation
type Result struct {
	Action  Action
	Current uint64
	Desired uint64
}

// Options configures an Engine
type Options struct {
	// DryRun computes and logs decisions without issuing scale commands
	DryRun bool

	// Retry bounds the scale command. Only the timeout applies: scale
	// failures are reported, not retried.
	Retry orchestrator.RetryPolicy
}

// Engine converges a service's replica count to its desired state
type Engine struct {
	client    orchestrator.Client
	publisher events.Publisher
	opts      Options
	logger    zerolog.Logger
}

// NewEngine creates a scaling engine
func NewEngine(client orchestrator.Client, publisher events.Publisher, opts Options) *Engine {
	if publisher == nil {
		publisher = events.Discard
	}
	return &Engine{
		client:    client,
		publisher: publisher,
		opts:      opts,
		logger:    log.WithComponent("scaler"),
	}
}

// DesiredReplicas returns ceil(active * perNode), floored at 0
func DesiredReplicas(active int, perNode float64) uint64 {
	if active <= 0 || perNode <= 0 {
		return 0
	}
	desired := math.Ceil(float64(active) * perNode)
	if desired >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(desired)
}

// Reconcile scales svc so it runs DesiredReplicas(active, cfg.PerNode)
// replicas. active must already respect cfg.NodeFilter. A failed scale
// command is logged and returned in the result with a non-nil error; the
// caller decides whether to continue with other services.
func (e *Engine) Reconcile(ctx context.Context, svc *types.Service, cfg *types.ServiceConfig, active int) (Result, error) {
	if !cfg.Enabled {
		return Result{Action: ActionDisabled, Current: svc.Replicas}, nil
	}

	logger := e.logger.With().
		Str("service_id", svc.ID).
		Str("service_name", svc.Name).
		Logger()

	if svc.Mode != types.ServiceModeReplicated {
		logger.Warn().Str("mode", string(svc.Mode)).Msg("service is not replicated, skipping")
		return Result{Action: ActionSkipped}, fmt.Errorf("service %s: %w", svc.Name, ErrNotReplicated)
	}

	desired := DesiredReplicas(active, cfg.PerNode)
	result := Result{Current: svc.Replicas, Desired: desired}
	metrics.DesiredReplicas.WithLabelValues(svc.Name).Set(float64(desired))

	if svc.Replicas == desired {
		result.Action = ActionNone
		logger.Debug().Uint64("replicas", desired).Int("active_nodes", active).Msg("service already at desired scale")
		return result, nil
	}

	if e.opts.DryRun {
		result.Action = ActionDryRun
		metrics.ScaleActions.WithLabelValues(metrics.ResultDryRun).Inc()
		logger.Info().
			Uint64("from", svc.Replicas).
			Uint64("to", desired).
			Int("active_nodes", active).
			Msg("dry run: service would be scaled")
		return result, nil
	}

	err := e.opts.Retry.Once(ctx, func(ctx context.Context) error {
		return e.client.ScaleService(ctx, svc.ID, desired)
	})
	if err != nil {
		result.Action = ActionFailed
		metrics.ScaleActions.WithLabelValues(metrics.ResultFailure).Inc()
		e.publisher.Publish(events.ServiceScaleFailed(svc.ID, svc.Name, desired, err))
		logger.Error().Err(err).Uint64("to", desired).Msg("failed to scale service")
		return result, fmt.Errorf("failed to scale service %s: %w", svc.Name, err)
	}

	result.Action = ActionScaled
	metrics.ScaleActions.WithLabelValues(metrics.ResultSuccess).Inc()
	e.publisher.Publish(events.ServiceScaled(svc.ID, svc.Name, svc.Replicas, desired))
	logger.Info().
		Uint64("from", svc.Replicas).
		Uint64("to", desired).
		Int("active_nodes", active).
		Float64("per_node", cfg.PerNode).
		Msg("service scaled")

	svc.Replicas = desired
	return result, nil
}
