package events

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventServiceScaled      EventType = "service.scaled"
	EventServiceScaleFailed EventType = "service.scale_failed"
	EventServiceInvalid     EventType = "service.invalid"
	EventNodeRemoved        EventType = "node.removed"
	EventNodeRemoveFailed   EventType = "node.remove_failed"
)

// Metadata keys
const (
	KeyServiceID   = "service_id"
	KeyServiceName = "service_name"
	KeyNodeID      = "node_id"
	KeyOldReplicas = "old_replicas"
	KeyNewReplicas = "new_replicas"
	KeyError       = "error"
)

// Event is an informational record of an action taken by the scaler
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// ServiceScaled records a replica change
func ServiceScaled(serviceID, serviceName string, from, to uint64) *Event {
	return &Event{
		Type:    EventServiceScaled,
		Message: "service " + serviceName + " scaled from " + strconv.FormatUint(from, 10) + " to " + strconv.FormatUint(to, 10),
		Metadata: map[string]string{
			KeyServiceID:   serviceID,
			KeyServiceName: serviceName,
			KeyOldReplicas: strconv.FormatUint(from, 10),
			KeyNewReplicas: strconv.FormatUint(to, 10),
		},
	}
}

// ServiceScaleFailed records a scale command the orchestrator rejected
func ServiceScaleFailed(serviceID, serviceName string, to uint64, err error) *Event {
	return &Event{
		Type:    EventServiceScaleFailed,
		Message: "failed to scale service " + serviceName,
		Metadata: map[string]string{
			KeyServiceID:   serviceID,
			KeyServiceName: serviceName,
			KeyNewReplicas: strconv.FormatUint(to, 10),
			KeyError:       err.Error(),
		},
	}
}

// ServiceInvalid records a service whose scaler labels failed validation
func ServiceInvalid(serviceID, serviceName string, err error) *Event {
	return &Event{
		Type:    EventServiceInvalid,
		Message: "service " + serviceName + " has incorrect configuration",
		Metadata: map[string]string{
			KeyServiceID:   serviceID,
			KeyServiceName: serviceName,
			KeyError:       err.Error(),
		},
	}
}

// NodeRemoved records a janitor removal
func NodeRemoved(nodeID, hostname string) *Event {
	return &Event{
		Type:     EventNodeRemoved,
		Message:  "removed outdated node " + hostname,
		Metadata: map[string]string{KeyNodeID: nodeID},
	}
}

// NodeRemoveFailed records a janitor removal the orchestrator rejected
func NodeRemoveFailed(nodeID, hostname string, err error) *Event {
	return &Event{
		Type:     EventNodeRemoveFailed,
		Message:  "failed to remove node " + hostname,
		Metadata: map[string]string{KeyNodeID: nodeID, KeyError: err.Error()},
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Publisher is implemented by Broker; components depend on it so they can
// run without a broker in tests.
type Publisher interface {
	Publish(event *Event)
}

// Discard is a Publisher that drops every event
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(*Event) {}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Uint64
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers. It never blocks the caller;
// when the queue is full the event is dropped and counted.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
