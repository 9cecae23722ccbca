package orchestrator

import (
	"context"

	"github.com/cuemby/scaler/pkg/types"
)

// Client is the subset of the orchestrator control API the scaler consumes
type Client interface {
	// ListNodes returns the current nodes, optionally restricted by role
	ListNodes(ctx context.Context, opts ListNodesOptions) ([]*types.Node, error)

	// ListServices returns every service in the cluster
	ListServices(ctx context.Context) ([]*types.Service, error)

	// GetService returns a single service. Fails with ErrNotFound if absent.
	GetService(ctx context.Context, id string) (*types.Service, error)

	// ScaleService sets the replica count of a replicated service
	ScaleService(ctx context.Context, id string, replicas uint64) error

	// RemoveNode removes a node from the cluster
	RemoveNode(ctx context.Context, id string) error

	// Subscribe opens the cluster event stream
	Subscribe(ctx context.Context) (Subscription, error)
}

// ListNodesOptions restricts a node listing
type ListNodesOptions struct {
	Role types.NodeRole // Empty means any role
}

// Subscription is a live event stream. Next blocks until an event arrives,
// the stream fails, or ctx is done.
type Subscription interface {
	Next(ctx context.Context) (*types.ClusterEvent, error)
	Close() error
}
