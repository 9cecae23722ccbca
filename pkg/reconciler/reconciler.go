package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/scaler/pkg/cache"
	"github.com/cuemby/scaler/pkg/events"
	"github.com/cuemby/scaler/pkg/inventory"
	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/metrics"
	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/policy"
	"github.com/cuemby/scaler/pkg/scaler"
	"github.com/cuemby/scaler/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"
)

// State of the event dispatcher
type State int32

const (
	StateStarting State = iota
	StateListening
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultStreamBackoff paces event stream re-establishment
var DefaultStreamBackoff = wait.Backoff{
	Duration: time.Second,
	Factor:   2.0,
	Jitter:   0.1,
	Steps:    10,
	Cap:      time.Minute,
}

// DefaultEventTimeout bounds the handling of a single event
const DefaultEventTimeout = 5 * time.Minute

// Options configures a Reconciler
type Options struct {
	// SweepWorkers bounds how many services a sweep reconciles at once
	SweepWorkers int

	// ReconcileOnSync runs one sweep right after every startup sync
	ReconcileOnSync bool

	// Retry is applied to orchestrator reads
	Retry orchestrator.RetryPolicy

	// StreamBackoff paces reconnects after the event stream drops
	StreamBackoff wait.Backoff

	// EventTimeout bounds the handling of one event. Handling is not
	// interrupted by shutdown, only by this deadline.
	EventTimeout time.Duration
}

// Reconciler keeps service replica counts proportional to the number of
// active worker nodes. It consumes the orchestrator event stream, keeps the
// configuration cache current and drives the scaling engine.
type Reconciler struct {
	client    orchestrator.Client
	cache     *cache.Cache
	inventory *inventory.Inventory
	engine    *scaler.Engine
	publisher events.Publisher
	opts      Options
	state     atomic.Int32
	logger    zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(client orchestrator.Client, c *cache.Cache, engine *scaler.Engine, publisher events.Publisher, opts Options) *Reconciler {
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = 1
	}
	if opts.StreamBackoff.Steps <= 0 {
		opts.StreamBackoff = DefaultStreamBackoff
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = DefaultEventTimeout
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Reconciler{
		client:    client,
		cache:     c,
		inventory: inventory.New(client, opts.Retry),
		engine:    engine,
		publisher: publisher,
		opts:      opts,
		logger:    log.WithComponent("reconciler"),
	}
}

// State returns the current dispatcher state
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

func (r *Reconciler) setState(s State) {
	r.state.Store(int32(s))
	if s == StateListening {
		metrics.DefaultHealth.Set(metrics.ComponentReconciler, true, s.String())
	} else {
		metrics.DefaultHealth.Set(metrics.ComponentReconciler, false, s.String())
	}
}

// Run syncs the cache and processes events until ctx is cancelled. A dropped
// stream is re-established with backoff followed by a fresh sync, since
// events may have been missed. Run returns nil on cancellation and an error
// on fatal orchestrator failures or when the first session cannot start.
func (r *Reconciler) Run(ctx context.Context) error {
	backoff := r.opts.StreamBackoff
	started := false

	for {
		listened, err := r.session(ctx)
		if ctx.Err() != nil {
			r.logger.Info().Msg("reconciler stopped")
			return nil
		}
		if listened {
			started = true
			backoff = r.opts.StreamBackoff
		}
		if orchestrator.IsFatal(err) {
			return err
		}
		if !started {
			return fmt.Errorf("failed to start reconciler: %w", err)
		}

		delay := backoff.Step()
		r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("event stream lost, reconnecting")
		metrics.StreamReconnects.Inc()

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// session subscribes, syncs and consumes events until the stream fails.
// It reports whether the dispatcher reached the listening state.
func (r *Reconciler) session(ctx context.Context) (bool, error) {
	r.setState(StateStarting)

	var sub orchestrator.Subscription
	err := r.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		sub, err = r.client.Subscribe(ctx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer sub.Close()

	// Subscribe before syncing so changes made during the sync are
	// delivered rather than lost.
	if err := r.Sync(ctx); err != nil {
		return false, err
	}
	if r.opts.ReconcileOnSync {
		if err := r.Sweep(ctx); err != nil {
			return false, err
		}
	}

	r.setState(StateListening)
	r.logger.Info().Int("services", r.cache.Len()).Msg("listening for cluster events")

	for {
		event, err := sub.Next(ctx)
		if err != nil {
			r.setState(StateStarting)
			return true, err
		}
		if err := r.dispatch(ctx, event); err != nil {
			r.setState(StateStarting)
			return true, err
		}
	}
}

// dispatch handles one event to completion even if ctx is cancelled
// meanwhile. Cancellation is observed between events, in Next.
func (r *Reconciler) dispatch(ctx context.Context, event *types.ClusterEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.EventTimeout)
	defer cancel()
	return r.HandleEvent(ctx, event)
}

// Sync rebuilds the configuration cache from the full service list.
// Services with invalid labels are logged and left out.
func (r *Reconciler) Sync(ctx context.Context) error {
	var services []*types.Service
	err := r.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		services, err = r.client.ListServices(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	r.cache.Clear()
	for _, svc := range services {
		if !policy.HasScalerLabels(svc.Labels) {
			continue
		}
		cfg, err := policy.Parse(svc.Labels)
		if err != nil {
			r.invalid(svc, err)
			continue
		}
		r.cache.Upsert(svc.ID, cfg)
	}

	metrics.SyncsTotal.Inc()
	metrics.ManagedServices.Set(float64(r.cache.Len()))
	r.logger.Info().
		Int("services", len(services)).
		Int("managed", r.cache.Len()).
		Msg("service configurations synced")
	return nil
}

// HandleEvent applies a single cluster event. Only fatal orchestrator
// errors are returned; everything else is logged.
func (r *Reconciler) HandleEvent(ctx context.Context, event *types.ClusterEvent) error {
	if event == nil {
		return nil
	}
	metrics.EventsTotal.WithLabelValues(string(event.Kind)).Inc()

	switch event.Kind {
	case types.EventNodeStateChanged:
		if event.NewState != types.NodeStatusReady && event.NewState != types.NodeStatusDown {
			return nil
		}
		r.logger.Info().
			Str("node_id", event.NodeID).
			Str("state", string(event.NewState)).
			Msg("received node state event")
		return r.Sweep(ctx)

	case types.EventServiceRemoved:
		metrics.DesiredReplicas.DeleteLabelValues(event.ServiceName)
		if r.cache.Remove(event.ServiceID) {
			metrics.ManagedServices.Set(float64(r.cache.Len()))
			logger := log.WithService(event.ServiceID, event.ServiceName)
			logger.Info().Msg("service removed, configuration dropped")
		}
		return nil

	case types.EventServiceUpdated:
		return r.handleServiceUpdated(ctx, event)
	}

	return nil
}

func (r *Reconciler) handleServiceUpdated(ctx context.Context, event *types.ClusterEvent) error {
	logger := log.WithService(event.ServiceID, event.ServiceName)

	svc, err := r.getService(ctx, event.ServiceID)
	if orchestrator.IsNotFound(err) {
		r.forget(event.ServiceID, event.ServiceName, logger)
		return nil
	}
	if err != nil {
		if orchestrator.IsFatal(err) {
			return err
		}
		logger.Error().Err(err).Msg("failed to fetch updated service")
		return nil
	}

	if !policy.HasScalerLabels(svc.Labels) {
		r.forget(svc.ID, svc.Name, logger)
		return nil
	}

	cfg, err := policy.Parse(svc.Labels)
	if err != nil {
		r.invalid(svc, err)
		return nil
	}

	r.cache.Upsert(svc.ID, cfg)
	metrics.ManagedServices.Set(float64(r.cache.Len()))
	logger.Debug().
		Bool("enabled", cfg.Enabled).
		Float64("per_node", cfg.PerNode).
		Str("node_filter", cfg.RawNodeFilter).
		Msg("service configuration updated")

	if !cfg.Enabled {
		return nil
	}

	active, err := r.inventory.ActiveWorkerCount(ctx, cfg.NodeFilter)
	if err != nil {
		return r.reconcileError(logger, err, "failed to count active nodes")
	}
	if _, err := r.engine.Reconcile(ctx, svc, cfg, active); err != nil {
		return r.reconcileError(logger, err, "")
	}
	return nil
}

// Sweep reconciles every cached service against one node listing. Services
// that vanished are skipped; no single failure aborts the sweep.
func (r *Reconciler) Sweep(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepsTotal.Inc()
	}()

	entries := r.cache.Snapshot()
	if len(entries) == 0 {
		return nil
	}

	nodes, err := r.inventory.ActiveWorkers(ctx, nil)
	if err != nil {
		return r.reconcileError(r.logger, err, "sweep aborted")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.SweepWorkers)
	for _, entry := range entries {
		if !entry.Config.Enabled {
			continue
		}
		g.Go(func() error {
			return r.sweepOne(gctx, entry, inventory.Count(nodes, entry.Config.NodeFilter))
		})
	}
	err = g.Wait()

	r.logger.Info().
		Int("services", len(entries)).
		Int("active_nodes", len(nodes)).
		Dur("duration", timer.Duration()).
		Msg("rescale sweep finished")
	return err
}

func (r *Reconciler) sweepOne(ctx context.Context, entry cache.Entry, active int) error {
	logger := log.WithService(entry.ServiceID, "")

	svc, err := r.getService(ctx, entry.ServiceID)
	if orchestrator.IsNotFound(err) {
		logger.Debug().Msg("cached service no longer exists, skipping")
		return nil
	}
	if err != nil {
		return r.reconcileError(logger, err, "failed to fetch service")
	}

	if _, err := r.engine.Reconcile(ctx, svc, entry.Config, active); err != nil {
		return r.reconcileError(logger, err, "")
	}
	return nil
}

func (r *Reconciler) getService(ctx context.Context, id string) (*types.Service, error) {
	var svc *types.Service
	err := r.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		svc, err = r.client.GetService(ctx, id)
		return err
	})
	return svc, err
}

// reconcileError logs err unless the engine already did, and returns it only
// when it is fatal
func (r *Reconciler) reconcileError(logger zerolog.Logger, err error, msg string) error {
	if orchestrator.IsFatal(err) {
		return err
	}
	if msg != "" && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg(msg)
	}
	return nil
}

func (r *Reconciler) forget(id, name string, logger zerolog.Logger) {
	metrics.DesiredReplicas.DeleteLabelValues(name)
	if r.cache.Remove(id) {
		metrics.ManagedServices.Set(float64(r.cache.Len()))
		logger.Info().Msg("service no longer carries scaler labels, configuration dropped")
	}
}

func (r *Reconciler) invalid(svc *types.Service, err error) {
	metrics.ConfigErrors.Inc()
	r.publisher.Publish(events.ServiceInvalid(svc.ID, svc.Name, err))
	logger := log.WithService(svc.ID, svc.Name)
	logger.Warn().Err(err).Msg("service has incorrect configuration")
}
