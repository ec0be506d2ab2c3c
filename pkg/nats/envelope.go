package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-refinery/pkg/events"
)

const (
	streamName    = "EVENTS"
	subjectPrefix = "events."
)

// wireEvent is what goes over the bus, so subscribers can rebuild the
// event type and time without guessing from the subject.
type wireEvent struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func Subject(eventType string) string {
	return subjectPrefix + eventType
}

func encodeEvent(event events.Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:       event.EventType(),
		OccurredAt: event.Timestamp(),
		Data:       event.Payload(),
	})
}

func decodeEvent(subject string, data []byte) (events.BaseEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return events.BaseEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if w.Type == "" {
		w.Type = strings.TrimPrefix(subject, subjectPrefix)
	}
	if w.OccurredAt.IsZero() {
		w.OccurredAt = time.Now().UTC()
	}
	return events.BaseEvent{Type: w.Type, Data: w.Data, OccurredAt: w.OccurredAt}, nil
}
