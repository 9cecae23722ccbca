package inventory

import (
	"context"
	"fmt"

	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/policy"
	"github.com/cuemby/scaler/pkg/types"
	"k8s.io/apimachinery/pkg/labels"
)

// Inventory answers questions about current cluster membership. It never
// caches: node membership changes are the signal the scaler reacts to.
type Inventory struct {
	client orchestrator.Client
	retry  orchestrator.RetryPolicy
}

// New creates an inventory backed by client
func New(client orchestrator.Client, retry orchestrator.RetryPolicy) *Inventory {
	return &Inventory{client: client, retry: retry}
}

// ActiveWorkers returns the ready worker nodes matching selector. A nil
// selector matches every ready worker.
func (i *Inventory) ActiveWorkers(ctx context.Context, selector labels.Selector) ([]*types.Node, error) {
	var nodes []*types.Node
	err := i.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		nodes, err = i.client.ListNodes(ctx, orchestrator.ListNodesOptions{Role: types.NodeRoleWorker})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	return filterActiveWorkers(nodes, selector), nil
}

// ActiveWorkerCount returns the number of ready worker nodes matching
// selector
func (i *Inventory) ActiveWorkerCount(ctx context.Context, selector labels.Selector) (int, error) {
	nodes, err := i.ActiveWorkers(ctx, selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// Count returns how many of nodes are active workers accepted by selector.
// Used by sweeps, which list nodes once and evaluate every service's filter
// against the same membership.
func Count(nodes []*types.Node, selector labels.Selector) int {
	return len(filterActiveWorkers(nodes, selector))
}

// filterActiveWorkers returns only ready worker nodes accepted by selector
func filterActiveWorkers(nodes []*types.Node, selector labels.Selector) []*types.Node {
	var active []*types.Node
	for _, node := range nodes {
		if node.IsActiveWorker() && policy.Matches(selector, node) {
			active = append(active, node)
		}
	}
	return active
}
