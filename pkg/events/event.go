package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "REFINE_SESSION_STARTED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Refinement session lifecycle.
const (
	RefineSessionStarted   = "REFINE_SESSION_STARTED"
	RefineStageAdvanced    = "REFINE_STAGE_ADVANCED"
	RefineSessionCompleted = "REFINE_SESSION_COMPLETED"
	RefineSessionFailed    = "REFINE_SESSION_FAILED"
	RefineSessionAborted   = "REFINE_SESSION_ABORTED"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func NewEvent(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
