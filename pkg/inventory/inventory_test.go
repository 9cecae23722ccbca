package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/scaler/pkg/orchestrator"
	"github.com/cuemby/scaler/pkg/orchestrator/memory"
	"github.com/cuemby/scaler/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
)

var testRetry = orchestrator.RetryPolicy{
	Backoff: wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1},
	Timeout: time.Second,
}

func TestFilterActiveWorkers(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []*types.Node
		selector string
		expected int
	}{
		{
			name: "all ready workers",
			nodes: []*types.Node{
				{ID: "worker-1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady},
				{ID: "worker-2", Role: types.NodeRoleWorker, Status: types.NodeStatusReady},
			},
			expected: 2,
		},
		{
			name: "mixed ready and down",
			nodes: []*types.Node{
				{ID: "worker-1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady},
				{ID: "worker-2", Role: types.NodeRoleWorker, Status: types.NodeStatusDown},
				{ID: "worker-3", Role: types.NodeRoleWorker, Status: types.NodeStatusReady},
			},
			expected: 2,
		},
		{
			name: "filter out managers",
			nodes: []*types.Node{
				{ID: "manager-1", Role: types.NodeRoleManager, Status: types.NodeStatusReady},
				{ID: "worker-1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady},
			},
			expected: 1,
		},
		{
			name: "selector restricts workers",
			nodes: []*types.Node{
				{ID: "worker-1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady, Labels: map[string]string{"zone": "eu"}},
				{ID: "worker-2", Role: types.NodeRoleWorker, Status: types.NodeStatusReady, Labels: map[string]string{"zone": "us"}},
				{ID: "worker-3", Role: types.NodeRoleWorker, Status: types.NodeStatusDown, Labels: map[string]string{"zone": "eu"}},
			},
			selector: "zone=eu",
			expected: 1,
		},
		{
			name: "no ready workers",
			nodes: []*types.Node{
				{ID: "worker-1", Role: types.NodeRoleWorker, Status: types.NodeStatusDown},
				{ID: "worker-2", Role: types.NodeRoleWorker, Status: types.NodeStatusUnknown},
			},
			expected: 0,
		},
		{
			name:     "nil node list",
			nodes:    nil,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var selector labels.Selector
			if tt.selector != "" {
				var err error
				selector, err = labels.Parse(tt.selector)
				require.NoError(t, err)
			}

			result := filterActiveWorkers(tt.nodes, selector)
			assert.Len(t, result, tt.expected)
			for _, node := range result {
				assert.Equal(t, types.NodeRoleWorker, node.Role)
				assert.Equal(t, types.NodeStatusReady, node.Status)
			}
		})
	}
}

func TestActiveWorkerCount(t *testing.T) {
	orch := memory.New()
	orch.AddNode(&types.Node{ID: "m1", Role: types.NodeRoleManager, Status: types.NodeStatusReady})
	orch.AddNode(&types.Node{ID: "w1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady, Labels: map[string]string{"gpu": "true"}})
	orch.AddNode(&types.Node{ID: "w2", Role: types.NodeRoleWorker, Status: types.NodeStatusReady})
	orch.AddNode(&types.Node{ID: "w3", Role: types.NodeRoleWorker, Status: types.NodeStatusDown, Labels: map[string]string{"gpu": "true"}})

	inv := New(orch, testRetry)

	n, err := inv.ActiveWorkerCount(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gpu, err := labels.Parse("gpu=true")
	require.NoError(t, err)
	n, err = inv.ActiveWorkerCount(context.Background(), gpu)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Always a fresh query
	orch.SetNodeStatus("w3", types.NodeStatusReady)
	n, err = inv.ActiveWorkerCount(context.Background(), gpu)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestActiveWorkerCountRetriesTransientErrors(t *testing.T) {
	orch := memory.New()
	orch.AddNode(&types.Node{ID: "w1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady})
	orch.FailNext("ListNodes", orchestrator.Transient(errors.New("502 bad gateway")))
	orch.FailNext("ListNodes", orchestrator.Transient(errors.New("502 bad gateway")))

	n, err := New(orch, testRetry).ActiveWorkerCount(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestActiveWorkerCountSurfacesFailures(t *testing.T) {
	t.Run("fatal is not retried", func(t *testing.T) {
		orch := memory.New()
		orch.AddNode(&types.Node{ID: "w1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady})
		orch.FailNext("ListNodes", orchestrator.Fatal(errors.New("401 unauthorized")))

		_, err := New(orch, testRetry).ActiveWorkerCount(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, orchestrator.IsFatal(err))
	})

	t.Run("transient exhausts backoff", func(t *testing.T) {
		orch := memory.New()
		for i := 0; i < 3; i++ {
			orch.FailNext("ListNodes", orchestrator.Transient(errors.New("timeout")))
		}

		_, err := New(orch, testRetry).ActiveWorkerCount(context.Background(), nil)
		require.Error(t, err)
		assert.True(t, orchestrator.IsTransient(err))
	})
}

func TestCount(t *testing.T) {
	nodes := []*types.Node{
		{ID: "w1", Role: types.NodeRoleWorker, Status: types.NodeStatusReady, Labels: map[string]string{"zone": "eu"}},
		{ID: "w2", Role: types.NodeRoleWorker, Status: types.NodeStatusReady, Labels: map[string]string{"zone": "us"}},
		{ID: "m1", Role: types.NodeRoleManager, Status: types.NodeStatusReady, Labels: map[string]string{"zone": "eu"}},
	}

	eu, err := labels.Parse("zone=eu")
	require.NoError(t, err)

	assert.Equal(t, 2, Count(nodes, nil))
	assert.Equal(t, 1, Count(nodes, eu))
	assert.Equal(t, 0, Count(nil, eu))
}
