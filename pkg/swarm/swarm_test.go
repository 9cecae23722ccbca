package swarm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/types"
	dockertypes "github.com/docker/docker/api/types"
	dockerevents "github.com/docker/docker/api/types/events"
	dockerswarm "github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	nodes    []dockerswarm.Node
	services map[string]dockerswarm.Service
	err      error

	nodeFilter string
	updated    *dockerswarm.ServiceSpec
	version    dockerswarm.Version
	removed    []string

	msgs chan dockerevents.Message
	errs chan error
	opts dockertypes.EventsOptions
}

func (f *fakeAPI) Ping(ctx context.Context) (dockertypes.Ping, error) {
	return dockertypes.Ping{}, f.err
}

func (f *fakeAPI) NodeList(ctx context.Context, options dockertypes.NodeListOptions) ([]dockerswarm.Node, error) {
	if len(options.Filters.Get("role")) > 0 {
		f.nodeFilter = options.Filters.Get("role")[0]
	}
	return f.nodes, f.err
}

func (f *fakeAPI) NodeRemove(ctx context.Context, nodeID string, options dockertypes.NodeRemoveOptions) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, nodeID)
	return nil
}

func (f *fakeAPI) ServiceList(ctx context.Context, options dockertypes.ServiceListOptions) ([]dockerswarm.Service, error) {
	var out []dockerswarm.Service
	for _, s := range f.services {
		out = append(out, s)
	}
	return out, f.err
}

func (f *fakeAPI) ServiceInspectWithRaw(ctx context.Context, serviceID string, options dockertypes.ServiceInspectOptions) (dockerswarm.Service, []byte, error) {
	if f.err != nil {
		return dockerswarm.Service{}, nil, f.err
	}
	s, ok := f.services[serviceID]
	if !ok {
		return dockerswarm.Service{}, nil, errdefs.NotFound(errors.New("service " + serviceID + " not found"))
	}
	return s, nil, nil
}

func (f *fakeAPI) ServiceUpdate(ctx context.Context, serviceID string, version dockerswarm.Version, service dockerswarm.ServiceSpec, options dockertypes.ServiceUpdateOptions) (dockertypes.ServiceUpdateResponse, error) {
	f.updated = &service
	f.version = version
	return dockertypes.ServiceUpdateResponse{Warnings: []string{"image could not be accessed"}}, nil
}

func (f *fakeAPI) Events(ctx context.Context, options dockertypes.EventsOptions) (<-chan dockerevents.Message, <-chan error) {
	f.opts = options
	return f.msgs, f.errs
}

func (f *fakeAPI) Close() error { return nil }

func replicas(n uint64) *uint64 { return &n }

func TestToNode(t *testing.T) {
	updated := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	n := dockerswarm.Node{
		ID:   "node-1",
		Meta: dockerswarm.Meta{UpdatedAt: updated},
		Spec: dockerswarm.NodeSpec{
			Annotations: dockerswarm.Annotations{Labels: map[string]string{"zone": "eu"}},
			Role:        dockerswarm.NodeRoleWorker,
		},
		Description: dockerswarm.NodeDescription{
			Hostname: "worker-1",
			Platform: dockerswarm.Platform{OS: "linux", Architecture: "x86_64"},
			Engine:   dockerswarm.EngineDescription{Labels: map[string]string{"gpu": "true"}},
		},
		Status: dockerswarm.NodeStatus{State: dockerswarm.NodeStateReady},
	}

	node := toNode(&n)
	assert.Equal(t, "node-1", node.ID)
	assert.Equal(t, "worker-1", node.Hostname)
	assert.Equal(t, types.NodeRoleWorker, node.Role)
	assert.Equal(t, types.NodeStatusReady, node.Status)
	assert.Equal(t, "eu", node.Labels["zone"])
	assert.Equal(t, "true", node.EngineLabels["gpu"])
	assert.Equal(t, types.Platform{OS: "linux", Architecture: "x86_64"}, node.Platform)
	assert.Equal(t, updated, node.UpdatedAt)
	assert.True(t, node.IsActiveWorker())
}

func TestToNodeStatus(t *testing.T) {
	tests := []struct {
		state dockerswarm.NodeState
		want  types.NodeStatus
	}{
		{dockerswarm.NodeStateReady, types.NodeStatusReady},
		{dockerswarm.NodeStateDown, types.NodeStatusDown},
		{dockerswarm.NodeStateDisconnected, types.NodeStatusDisconnected},
		{dockerswarm.NodeStateUnknown, types.NodeStatusUnknown},
		{dockerswarm.NodeState("draining"), types.NodeStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, toNodeStatus(tt.state))
		})
	}
}

func TestToService(t *testing.T) {
	tests := []struct {
		name     string
		mode     dockerswarm.ServiceMode
		wantMode types.ServiceMode
		want     uint64
	}{
		{"replicated", dockerswarm.ServiceMode{Replicated: &dockerswarm.ReplicatedService{Replicas: replicas(3)}}, types.ServiceModeReplicated, 3},
		{"replicated without count", dockerswarm.ServiceMode{Replicated: &dockerswarm.ReplicatedService{}}, types.ServiceModeReplicated, 0},
		{"global", dockerswarm.ServiceMode{Global: &dockerswarm.GlobalService{}}, types.ServiceModeGlobal, 0},
		{"job", dockerswarm.ServiceMode{ReplicatedJob: &dockerswarm.ReplicatedJob{}}, types.ServiceModeJob, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := dockerswarm.Service{
				ID: "svc-1",
				Spec: dockerswarm.ServiceSpec{
					Annotations: dockerswarm.Annotations{Name: "web", Labels: map[string]string{"scaler.enabled": "true"}},
					Mode:        tt.mode,
				},
			}
			svc := toService(&s)
			assert.Equal(t, "svc-1", svc.ID)
			assert.Equal(t, "web", svc.Name)
			assert.Equal(t, "true", svc.Labels["scaler.enabled"])
			assert.Equal(t, tt.wantMode, svc.Mode)
			assert.Equal(t, tt.want, svc.Replicas)
		})
	}
}

func TestToEvent(t *testing.T) {
	tests := []struct {
		name string
		msg  dockerevents.Message
		want types.ClusterEvent
	}{
		{
			name: "node became ready",
			msg: dockerevents.Message{Type: "node", Action: "update", Actor: dockerevents.Actor{
				ID: "n1", Attributes: map[string]string{"state.new": "ready", "state.old": "down"},
			}},
			want: types.ClusterEvent{Kind: types.EventNodeStateChanged, NodeID: "n1", NewState: types.NodeStatusReady},
		},
		{
			name: "node went down",
			msg: dockerevents.Message{Type: "node", Action: "update", Actor: dockerevents.Actor{
				ID: "n1", Attributes: map[string]string{"state.new": "down"},
			}},
			want: types.ClusterEvent{Kind: types.EventNodeStateChanged, NodeID: "n1", NewState: types.NodeStatusDown},
		},
		{
			name: "node update without state change",
			msg: dockerevents.Message{Type: "node", Action: "update", Actor: dockerevents.Actor{
				ID: "n1", Attributes: map[string]string{"availability.new": "drain"},
			}},
			want: types.ClusterEvent{Kind: types.EventUnknown, NodeID: "n1"},
		},
		{
			name: "service created",
			msg: dockerevents.Message{Type: "service", Action: "create", Actor: dockerevents.Actor{
				ID: "s1", Attributes: map[string]string{"name": "web"},
			}},
			want: types.ClusterEvent{Kind: types.EventServiceUpdated, ServiceID: "s1", ServiceName: "web"},
		},
		{
			name: "service updated",
			msg: dockerevents.Message{Type: "service", Action: "update", Actor: dockerevents.Actor{
				ID: "s1", Attributes: map[string]string{"name": "web"},
			}},
			want: types.ClusterEvent{Kind: types.EventServiceUpdated, ServiceID: "s1", ServiceName: "web"},
		},
		{
			name: "service removed",
			msg: dockerevents.Message{Type: "service", Action: "remove", Actor: dockerevents.Actor{
				ID: "s1", Attributes: map[string]string{"name": "web"},
			}},
			want: types.ClusterEvent{Kind: types.EventServiceRemoved, ServiceID: "s1", ServiceName: "web"},
		},
		{
			name: "container event",
			msg:  dockerevents.Message{Type: "container", Action: "start", Actor: dockerevents.Actor{ID: "c1"}},
			want: types.ClusterEvent{Kind: types.EventUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *toEvent(tt.msg))
		})
	}
}

func TestToEventTimestamp(t *testing.T) {
	ev := toEvent(dockerevents.Message{Type: "service", Action: "remove", TimeNano: 1700000000123456789})
	assert.Equal(t, time.Unix(0, 1700000000123456789), ev.Timestamp)

	ev = toEvent(dockerevents.Message{Type: "service", Action: "remove", Time: 1700000000})
	assert.Equal(t, time.Unix(1700000000, 0), ev.Timestamp)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		fatal     bool
		transient bool
	}{
		{"not found", errdefs.NotFound(errors.New("no such service")), true, false, false},
		{"unauthorized", errdefs.Unauthorized(errors.New("bad cert")), false, true, false},
		{"forbidden", errdefs.Forbidden(errors.New("denied")), false, true, false},
		{"unavailable", errdefs.Unavailable(errors.New("no leader")), false, false, true},
		{"server error", errdefs.System(errors.New("500")), false, false, true},
		{"deadline", context.DeadlineExceeded, false, false, true},
		{"conflict", errdefs.Conflict(errors.New("update out of sequence")), false, false, false},
		{"canceled", context.Canceled, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, orchestrator.IsNotFound(err))
			assert.Equal(t, tt.fatal, orchestrator.IsFatal(err))
			assert.Equal(t, tt.transient, orchestrator.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classify(nil))
}

func TestListNodes(t *testing.T) {
	api := &fakeAPI{nodes: []dockerswarm.Node{
		{ID: "a", Status: dockerswarm.NodeStatus{State: dockerswarm.NodeStateReady}},
		{ID: "b", Status: dockerswarm.NodeStatus{State: dockerswarm.NodeStateDown}},
	}}
	c := New(api)

	nodes, err := c.ListNodes(context.Background(), orchestrator.ListNodesOptions{Role: types.NodeRoleWorker})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "worker", api.nodeFilter)
	assert.Equal(t, types.NodeStatusDown, nodes[1].Status)
}

func TestListNodesError(t *testing.T) {
	c := New(&fakeAPI{err: errdefs.Unavailable(errors.New("swarm has no leader"))})

	_, err := c.ListNodes(context.Background(), orchestrator.ListNodesOptions{})
	assert.True(t, orchestrator.IsTransient(err))
}

func TestGetServiceNotFound(t *testing.T) {
	c := New(&fakeAPI{services: map[string]dockerswarm.Service{}})

	_, err := c.GetService(context.Background(), "missing")
	assert.True(t, orchestrator.IsNotFound(err))
}

func TestScaleService(t *testing.T) {
	api := &fakeAPI{services: map[string]dockerswarm.Service{
		"svc": {
			ID:   "svc",
			Meta: dockerswarm.Meta{Version: dockerswarm.Version{Index: 42}},
			Spec: dockerswarm.ServiceSpec{
				Annotations: dockerswarm.Annotations{Name: "web"},
				Mode:        dockerswarm.ServiceMode{Replicated: &dockerswarm.ReplicatedService{Replicas: replicas(1)}},
			},
		},
	}}
	c := New(api)

	require.NoError(t, c.ScaleService(context.Background(), "svc", 5))
	require.NotNil(t, api.updated)
	assert.Equal(t, uint64(5), *api.updated.Mode.Replicated.Replicas)
	assert.Equal(t, "web", api.updated.Name)
	assert.Equal(t, uint64(42), api.version.Index)
}

func TestScaleServiceGlobal(t *testing.T) {
	api := &fakeAPI{services: map[string]dockerswarm.Service{
		"svc": {ID: "svc", Spec: dockerswarm.ServiceSpec{Mode: dockerswarm.ServiceMode{Global: &dockerswarm.GlobalService{}}}},
	}}
	c := New(api)

	assert.Error(t, c.ScaleService(context.Background(), "svc", 5))
	assert.Nil(t, api.updated)
}

func TestRemoveNode(t *testing.T) {
	api := &fakeAPI{}
	c := New(api)

	require.NoError(t, c.RemoveNode(context.Background(), "n1"))
	assert.Equal(t, []string{"n1"}, api.removed)
}

func TestSubscription(t *testing.T) {
	api := &fakeAPI{msgs: make(chan dockerevents.Message, 1), errs: make(chan error, 1)}
	c := New(api)

	sub, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()
	assert.ElementsMatch(t, []string{"node", "service"}, api.opts.Filters.Get("type"))

	api.msgs <- dockerevents.Message{Type: "service", Action: "remove", Actor: dockerevents.Actor{ID: "s1"}}
	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.EventServiceRemoved, ev.Kind)

	api.errs <- io.EOF
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrStreamClosed)
	assert.True(t, orchestrator.IsTransient(err))
}

func TestSubscriptionErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"unauthorized", errdefs.Unauthorized(errors.New("bad cert")), true},
		{"connection reset", errors.New("read: connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{msgs: make(chan dockerevents.Message), errs: make(chan error, 1)}
			sub, err := New(api).Subscribe(context.Background())
			require.NoError(t, err)
			defer sub.Close()

			api.errs <- tt.err
			_, err = sub.Next(context.Background())
			assert.Equal(t, tt.fatal, orchestrator.IsFatal(err))
			assert.Equal(t, !tt.fatal, orchestrator.IsTransient(err))
		})
	}
}

func TestSubscriptionContextDone(t *testing.T) {
	api := &fakeAPI{msgs: make(chan dockerevents.Message), errs: make(chan error)}
	sub, err := New(api).Subscribe(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, sub.Close())
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, orchestrator.ErrStreamClosed)
}
