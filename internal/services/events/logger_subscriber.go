package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that writes every event to
// the debug log, giving operators an audit trail of profile transitions
// without opening the UI.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case *interfaces.ProfileStatusPayload:
			logEvent = logEvent.Str("profile_id", payload.ProfileID)
			if payload.From != "" {
				logEvent = logEvent.Str("from", payload.From)
			}
			if payload.To != "" {
				logEvent = logEvent.Str("to", payload.To)
			}
		case *interfaces.SyncCompletedPayload:
			logEvent = logEvent.
				Str("profile_id", payload.ProfileID).
				Bool("success", payload.Success)
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the audit logger to every known
// event type
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventProfileCreated,
		interfaces.EventProfileStatusChanged,
		interfaces.EventProfileDeleted,
		interfaces.EventSyncCompleted,
		interfaces.EventSettingsUpdated,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Audit logger subscribed to all event types")

	return nil
}
