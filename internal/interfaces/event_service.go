package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventProfileCreated       EventType = "profile_created"
	EventProfileStatusChanged EventType = "profile_status_changed"
	EventProfileDeleted       EventType = "profile_deleted"
	EventSyncCompleted        EventType = "sync_completed"
	EventSettingsUpdated      EventType = "settings_updated"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// ProfileStatusPayload accompanies EventProfileStatusChanged
type ProfileStatusPayload struct {
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// SyncCompletedPayload accompanies EventSyncCompleted
type SyncCompletedPayload struct {
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Email     string `json:"email,omitempty"`
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Unsubscribe from an event type
	Unsubscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
