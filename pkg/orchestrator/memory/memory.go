package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/types"
)

// ScaleCall records a ScaleService invocation
type ScaleCall struct {
	ServiceID string
	Replicas  uint64
}

// Orchestrator is an in-memory orchestrator.Client. Events pushed with Emit
// are delivered to the current subscription.
type Orchestrator struct {
	mu       sync.Mutex
	nodes    map[string]*types.Node
	services map[string]*types.Service

	scaleCalls  []ScaleCall
	removeCalls []string
	subscribes  int

	// Per-operation failure injection, keyed by operation name
	// ("ListNodes", "ListServices", "GetService", "ScaleService",
	// "RemoveNode", "Subscribe"). Each entry is consumed once.
	failures map[string][]error

	// Scale and remove failures keyed by entity ID, returned on every call
	scaleErrs  map[string]error
	removeErrs map[string]error

	events chan streamItem
}

type streamItem struct {
	event *types.ClusterEvent
	err   error
}

var _ orchestrator.Client = (*Orchestrator)(nil)

// New creates an empty in-memory orchestrator
func New() *Orchestrator {
	return &Orchestrator{
		nodes:      make(map[string]*types.Node),
		services:   make(map[string]*types.Service),
		failures:   make(map[string][]error),
		scaleErrs:  make(map[string]error),
		removeErrs: make(map[string]error),
		events:     make(chan streamItem, 64),
	}
}

// AddNode adds or replaces a node
func (o *Orchestrator) AddNode(node *types.Node) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nodes[node.ID] = node
}

// SetNodeStatus changes the status of an existing node
func (o *Orchestrator) SetNodeStatus(id string, status types.NodeStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n, ok := o.nodes[id]; ok {
		n.Status = status
	}
}

// AddService adds or replaces a service
func (o *Orchestrator) AddService(svc *types.Service) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.services[svc.ID] = svc
}

// DeleteService removes a service without emitting an event
func (o *Orchestrator) DeleteService(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.services, id)
}

// Service returns a copy of a stored service
func (o *Orchestrator) Service(id string) (types.Service, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	svc, ok := o.services[id]
	if !ok {
		return types.Service{}, false
	}
	return *svc, true
}

// HasNode reports whether a node is still registered
func (o *Orchestrator) HasNode(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.nodes[id]
	return ok
}

// FailNext makes the next call of op return err
func (o *Orchestrator) FailNext(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[op] = append(o.failures[op], err)
}

// FailScale makes every ScaleService call for id return err
func (o *Orchestrator) FailScale(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scaleErrs[id] = err
}

// FailRemove makes every RemoveNode call for id return err
func (o *Orchestrator) FailRemove(id string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeErrs[id] = err
}

// ScaleCalls returns the recorded ScaleService invocations
func (o *Orchestrator) ScaleCalls() []ScaleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ScaleCall(nil), o.scaleCalls...)
}

// RemoveCalls returns the node IDs passed to RemoveNode
func (o *Orchestrator) RemoveCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.removeCalls...)
}

// Subscribes returns how many times Subscribe succeeded
func (o *Orchestrator) Subscribes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.subscribes
}

// Emit queues an event for the subscriber
func (o *Orchestrator) Emit(event *types.ClusterEvent) {
	o.events <- streamItem{event: event}
}

// Break queues a stream failure for the subscriber
func (o *Orchestrator) Break(err error) {
	o.events <- streamItem{err: err}
}

func (o *Orchestrator) takeFailure(op string) error {
	errs := o.failures[op]
	if len(errs) == 0 {
		return nil
	}
	o.failures[op] = errs[1:]
	return errs[0]
}

// ListNodes implements orchestrator.Client
func (o *Orchestrator) ListNodes(ctx context.Context, opts orchestrator.ListNodesOptions) ([]*types.Node, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.takeFailure("ListNodes"); err != nil {
		return nil, err
	}

	var nodes []*types.Node
	for _, n := range o.nodes {
		if opts.Role != "" && n.Role != opts.Role {
			continue
		}
		c := *n
		nodes = append(nodes, &c)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// ListServices implements orchestrator.Client
func (o *Orchestrator) ListServices(ctx context.Context) ([]*types.Service, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.takeFailure("ListServices"); err != nil {
		return nil, err
	}

	var services []*types.Service
	for _, s := range o.services {
		c := *s
		services = append(services, &c)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

// GetService implements orchestrator.Client
func (o *Orchestrator) GetService(ctx context.Context, id string) (*types.Service, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.takeFailure("GetService"); err != nil {
		return nil, err
	}

	s, ok := o.services[id]
	if !ok {
		return nil, orchestrator.NotFound("service", id)
	}
	c := *s
	return &c, nil
}

// ScaleService implements orchestrator.Client
func (o *Orchestrator) ScaleService(ctx context.Context, id string, replicas uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scaleCalls = append(o.scaleCalls, ScaleCall{ServiceID: id, Replicas: replicas})
	if err := o.takeFailure("ScaleService"); err != nil {
		return err
	}
	if err := o.scaleErrs[id]; err != nil {
		return err
	}

	s, ok := o.services[id]
	if !ok {
		return orchestrator.NotFound("service", id)
	}
	s.Replicas = replicas
	return nil
}

// RemoveNode implements orchestrator.Client
func (o *Orchestrator) RemoveNode(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removeCalls = append(o.removeCalls, id)
	if err := o.takeFailure("RemoveNode"); err != nil {
		return err
	}
	if err := o.removeErrs[id]; err != nil {
		return err
	}

	if _, ok := o.nodes[id]; !ok {
		return orchestrator.NotFound("node", id)
	}
	delete(o.nodes, id)
	return nil
}

// Subscribe implements orchestrator.Client
func (o *Orchestrator) Subscribe(ctx context.Context) (orchestrator.Subscription, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.takeFailure("Subscribe"); err != nil {
		return nil, err
	}
	o.subscribes++
	return &subscription{events: o.events, done: make(chan struct{})}, nil
}

type subscription struct {
	events <-chan streamItem
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Next(ctx context.Context) (*types.ClusterEvent, error) {
	select {
	case item := <-s.events:
		return item.event, item.err
	case <-s.done:
		return nil, orchestrator.ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
