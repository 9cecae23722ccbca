package types

import (
	"time"

	"k8s.io/apimachinery/pkg/labels"
)

// Node is a read-only view of a machine participating in the cluster
type Node struct {
	ID           string
	Hostname     string
	Role         NodeRole
	Status       NodeStatus
	Labels       map[string]string // Node spec labels set by operators
	EngineLabels map[string]string // Labels reported by the container engine
	Platform     Platform
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NodeRole defines the role of a node
type NodeRole string

const (
	NodeRoleManager NodeRole = "manager"
	NodeRoleWorker  NodeRole = "worker"
)

// NodeStatus represents the current state of a node
type NodeStatus string

const (
	NodeStatusReady        NodeStatus = "ready"
	NodeStatusDown         NodeStatus = "down"
	NodeStatusDisconnected NodeStatus = "disconnected"
	NodeStatusUnknown      NodeStatus = "unknown"
)

// Platform describes the operating system and architecture of a node
type Platform struct {
	OS           string
	Architecture string
}

// IsActiveWorker reports whether the node counts toward a service's scale
func (n *Node) IsActiveWorker() bool {
	return n.Role == NodeRoleWorker && n.Status == NodeStatusReady
}

// Service is a read-only view of a declarative workload
type Service struct {
	ID        string
	Name      string
	Labels    map[string]string
	Mode      ServiceMode
	Replicas  uint64 // Only meaningful for replicated services
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceMode defines how a service is scheduled
type ServiceMode string

const (
	ServiceModeReplicated ServiceMode = "replicated" // N replicas
	ServiceModeGlobal     ServiceMode = "global"     // One per node
	ServiceModeJob        ServiceMode = "job"        // Runs to completion
)

// ServiceConfig is the validated scaling policy of one service
type ServiceConfig struct {
	Enabled bool

	// PerNode is the number of replicas per active worker node. It does not
	// need to be integral; the product is rounded up.
	PerNode float64

	// NodeFilter restricts which nodes count as active. Nil means all.
	NodeFilter    labels.Selector
	RawNodeFilter string
}

// EventKind classifies a ClusterEvent
type EventKind string

const (
	EventNodeStateChanged EventKind = "node.state_changed"
	EventServiceUpdated   EventKind = "service.updated"
	EventServiceRemoved   EventKind = "service.removed"
	EventUnknown          EventKind = "unknown"
)

// ClusterEvent is a single event received from the orchestrator stream.
// NewState is set for EventNodeStateChanged; ServiceID and ServiceName for
// the service kinds.
type ClusterEvent struct {
	Kind        EventKind
	NodeID      string
	NewState    NodeStatus
	ServiceID   string
	ServiceName string
	Timestamp   time.Time
}

// NodeStateChanged builds a node state event
func NodeStateChanged(nodeID string, state NodeStatus) *ClusterEvent {
	return &ClusterEvent{Kind: EventNodeStateChanged, NodeID: nodeID, NewState: state}
}

// ServiceUpdated builds a service update event
func ServiceUpdated(id, name string) *ClusterEvent {
	return &ClusterEvent{Kind: EventServiceUpdated, ServiceID: id, ServiceName: name}
}

// ServiceRemoved builds a service removal event
func ServiceRemoved(id, name string) *ClusterEvent {
	return &ClusterEvent{Kind: EventServiceRemoved, ServiceID: id, ServiceName: name}
}
