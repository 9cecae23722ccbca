package metrics

import (
	"context"
	"time"

	"github.com/cuemby/scaler/pkg/orchestrator"
)

// Collector periodically samples cluster node counts from the orchestrator
type Collector struct {
	client   orchestrator.Client
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. timeout bounds each
// orchestrator call.
func NewCollector(client orchestrator.Client, interval, timeout time.Duration) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = orchestrator.DefaultTimeout
	}
	return &Collector{
		client:   client,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples node counts once and records orchestrator health
func (c *Collector) Collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	nodes, err := c.client.ListNodes(ctx, orchestrator.ListNodesOptions{})
	if err != nil {
		DefaultHealth.Set(ComponentOrchestrator, false, err.Error())
		return
	}
	DefaultHealth.Set(ComponentOrchestrator, true, "")

	NodesTotal.Reset()
	for _, node := range nodes {
		NodesTotal.WithLabelValues(string(node.Role), string(node.Status)).Inc()
	}
}
