package service

import "sync"

// EventType defines the type of event
type EventType string

const (
	EventSwitchConnected     EventType = "switch_connected"
	EventSwitchEnabled       EventType = "switch_enabled"
	EventSwitchDisabled      EventType = "switch_disabled"
	EventSwitchDeleted       EventType = "switch_deleted"
	EventInterfaceEnabled    EventType = "interface_enabled"
	EventInterfaceDisabled   EventType = "interface_disabled"
	EventLinkCreated         EventType = "link_created"
	EventLinkEnabled         EventType = "link_enabled"
	EventLinkDisabled        EventType = "link_disabled"
	EventLinkDeleted         EventType = "link_deleted"
	EventMetadataUpdated     EventType = "metadata_updated"
	EventMetadataDeleted     EventType = "metadata_deleted"
	EventLivenessEnabled     EventType = "liveness_enabled"
	EventLivenessDisabled    EventType = "liveness_disabled"
	EventLivenessChanged     EventType = "liveness_changed"
	EventPollingTimeChanged  EventType = "polling_time_changed"
	EventLLDPExclusionChange EventType = "lldp_exclusion_changed"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventName names the event on the SSE stream
func (e Event) EventName() string {
	return string(e.Type)
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}
