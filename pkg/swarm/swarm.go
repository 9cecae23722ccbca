package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/scaler/pkg/log"
	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/types"
	dockertypes "github.com/docker/docker/api/types"
	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	dockerswarm "github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"
)

// API is the subset of the Docker Engine client used by the adapter.
// *client.Client satisfies it.
type API interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	NodeList(ctx context.Context, options dockertypes.NodeListOptions) ([]dockerswarm.Node, error)
	NodeRemove(ctx context.Context, nodeID string, options dockertypes.NodeRemoveOptions) error
	ServiceList(ctx context.Context, options dockertypes.ServiceListOptions) ([]dockerswarm.Service, error)
	ServiceInspectWithRaw(ctx context.Context, serviceID string, options dockertypes.ServiceInspectOptions) (dockerswarm.Service, []byte, error)
	ServiceUpdate(ctx context.Context, serviceID string, version dockerswarm.Version, service dockerswarm.ServiceSpec, options dockertypes.ServiceUpdateOptions) (dockertypes.ServiceUpdateResponse, error)
	Events(ctx context.Context, options dockertypes.EventsOptions) (<-chan dockerevents.Message, <-chan error)
	Close() error
}

var _ API = (*client.Client)(nil)

// Config holds the Docker Engine connection settings
type Config struct {
	// Host overrides DOCKER_HOST when set
	Host string
}

// Client implements orchestrator.Client on top of the Docker Swarm API
type Client struct {
	api    API
	logger zerolog.Logger
}

var _ orchestrator.Client = (*Client)(nil)

// NewClient connects to the Docker Engine using the environment
// (DOCKER_HOST, DOCKER_CERT_PATH, DOCKER_TLS_VERIFY) and negotiates the API
// version
func NewClient(cfg Config) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return New(api), nil
}

// New wraps an existing Docker API client
func New(api API) *Client {
	return &Client{
		api:    api,
		logger: log.WithComponent("swarm"),
	}
}

// Ping checks that the engine is reachable
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping docker engine: %w", classify(err))
	}
	return nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.api.Close()
}

// ListNodes implements orchestrator.Client
func (c *Client) ListNodes(ctx context.Context, opts orchestrator.ListNodesOptions) ([]*types.Node, error) {
	args := filters.NewArgs()
	if opts.Role != "" {
		args.Add("role", string(opts.Role))
	}

	nodes, err := c.api.NodeList(ctx, dockertypes.NodeListOptions{Filters: args})
	if err != nil {
		return nil, classify(err)
	}

	result := make([]*types.Node, 0, len(nodes))
	for i := range nodes {
		result = append(result, toNode(&nodes[i]))
	}
	return result, nil
}

// ListServices implements orchestrator.Client
func (c *Client) ListServices(ctx context.Context) ([]*types.Service, error) {
	services, err := c.api.ServiceList(ctx, dockertypes.ServiceListOptions{})
	if err != nil {
		return nil, classify(err)
	}

	result := make([]*types.Service, 0, len(services))
	for i := range services {
		result = append(result, toService(&services[i]))
	}
	return result, nil
}

// GetService implements orchestrator.Client
func (c *Client) GetService(ctx context.Context, id string) (*types.Service, error) {
	svc, _, err := c.api.ServiceInspectWithRaw(ctx, id, dockertypes.ServiceInspectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	return toService(&svc), nil
}

// ScaleService implements orchestrator.Client. The current spec is
// inspected first so the update carries the latest version index.
func (c *Client) ScaleService(ctx context.Context, id string, replicas uint64) error {
	svc, _, err := c.api.ServiceInspectWithRaw(ctx, id, dockertypes.ServiceInspectOptions{})
	if err != nil {
		return classify(err)
	}

	spec := svc.Spec
	if spec.Mode.Replicated == nil {
		return fmt.Errorf("service %s is not in replicated mode", id)
	}
	spec.Mode.Replicated.Replicas = &replicas

	resp, err := c.api.ServiceUpdate(ctx, svc.ID, svc.Version, spec, dockertypes.ServiceUpdateOptions{})
	if err != nil {
		return classify(err)
	}
	for _, warning := range resp.Warnings {
		c.logger.Warn().Str("service_id", id).Msg(warning)
	}
	return nil
}

// RemoveNode implements orchestrator.Client
func (c *Client) RemoveNode(ctx context.Context, id string) error {
	if err := c.api.NodeRemove(ctx, id, dockertypes.NodeRemoveOptions{}); err != nil {
		return classify(err)
	}
	return nil
}

// Subscribe implements orchestrator.Client. Only node and service events
// are requested from the engine. The stream outlives ctx and ends on Close;
// a rejected request surfaces from the first Next.
func (c *Client) Subscribe(ctx context.Context) (orchestrator.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	msgs, errs := c.api.Events(streamCtx, dockertypes.EventsOptions{
		Filters: filters.NewArgs(
			filters.Arg("type", "node"),
			filters.Arg("type", "service"),
		),
	})
	return &subscription{msgs: msgs, errs: errs, cancel: cancel}, nil
}

type subscription struct {
	msgs   <-chan dockerevents.Message
	errs   <-chan error
	cancel context.CancelFunc
	closed bool
}

func (s *subscription) Next(ctx context.Context) (*types.ClusterEvent, error) {
	if s.closed {
		return nil, orchestrator.ErrStreamClosed
	}

	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, orchestrator.ErrStreamClosed
		}
		return toEvent(msg), nil
	case err := <-s.errs:
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil, orchestrator.ErrStreamClosed
		}
		return nil, streamError(err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.closed = true
	s.cancel()
	return nil
}

// streamError classifies an error read from an open event stream. Anything
// that is not an authorization failure is a broken stream.
func streamError(err error) error {
	classified := classify(err)
	if orchestrator.IsFatal(classified) || orchestrator.IsTransient(classified) {
		return classified
	}
	return orchestrator.Transient(err)
}

// classify maps Docker client errors onto the orchestrator error taxonomy
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %w", orchestrator.ErrNotFound, err)
	case errdefs.IsUnauthorized(err), errdefs.IsForbidden(err), errdefs.IsNotImplemented(err):
		return orchestrator.Fatal(err)
	case client.IsErrConnectionFailed(err),
		errdefs.IsUnavailable(err),
		errdefs.IsSystem(err),
		errdefs.IsDeadline(err),
		errors.Is(err, context.DeadlineExceeded):
		return orchestrator.Transient(err)
	default:
		return err
	}
}

func toNode(n *dockerswarm.Node) *types.Node {
	return &types.Node{
		ID:           n.ID,
		Hostname:     n.Description.Hostname,
		Role:         types.NodeRole(n.Spec.Role),
		Status:       toNodeStatus(n.Status.State),
		Labels:       n.Spec.Labels,
		EngineLabels: n.Description.Engine.Labels,
		Platform: types.Platform{
			OS:           n.Description.Platform.OS,
			Architecture: n.Description.Platform.Architecture,
		},
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toNodeStatus(state dockerswarm.NodeState) types.NodeStatus {
	switch state {
	case dockerswarm.NodeStateReady:
		return types.NodeStatusReady
	case dockerswarm.NodeStateDown:
		return types.NodeStatusDown
	case dockerswarm.NodeStateDisconnected:
		return types.NodeStatusDisconnected
	default:
		return types.NodeStatusUnknown
	}
}

func toService(s *dockerswarm.Service) *types.Service {
	svc := &types.Service{
		ID:        s.ID,
		Name:      s.Spec.Name,
		Labels:    s.Spec.Labels,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}

	mode := s.Spec.Mode
	switch {
	case mode.Replicated != nil:
		svc.Mode = types.ServiceModeReplicated
		if mode.Replicated.Replicas != nil {
			svc.Replicas = *mode.Replicated.Replicas
		}
	case mode.Global != nil:
		svc.Mode = types.ServiceModeGlobal
	default:
		svc.Mode = types.ServiceModeJob
	}
	return svc
}

func toEvent(msg dockerevents.Message) *types.ClusterEvent {
	ev := &types.ClusterEvent{Kind: types.EventUnknown}
	if msg.TimeNano != 0 {
		ev.Timestamp = time.Unix(0, msg.TimeNano)
	} else if msg.Time != 0 {
		ev.Timestamp = time.Unix(msg.Time, 0)
	}

	attrs := msg.Actor.Attributes
	switch string(msg.Type) {
	case "node":
		ev.NodeID = msg.Actor.ID
		state, ok := attrs["state.new"]
		if string(msg.Action) == "update" && ok {
			ev.Kind = types.EventNodeStateChanged
			ev.NewState = toNodeStatus(dockerswarm.NodeState(state))
		}

	case "service":
		ev.ServiceID = msg.Actor.ID
		ev.ServiceName = attrs["name"]
		switch string(msg.Action) {
		case "create", "update":
			ev.Kind = types.EventServiceUpdated
		case "remove":
			ev.Kind = types.EventServiceRemoved
		}
	}
	return ev
}
