// Package event defines the wire record every engine produces and
// consumes: the Event envelope, its optional saga block, and the
// serialization rules from SPEC_FULL.md §6 (self-describing, named typed
// fields, tolerant of unknown fields on read).
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is used when a producer does not set EventVersion.
const DefaultVersion = "1.0"

// SagaBlock carries saga coordinates when an event was produced as part of
// an orchestrated or choreographed saga.
type SagaBlock struct {
	SagaID         string `json:"sagaId"`
	SagaType       string `json:"sagaType"`
	StepNumber     int32  `json:"stepNumber"`
	IsCompensating bool   `json:"isCompensating"`
}

// Event is the immutable record produced by a Domain Engine and carried
// through the Event Log, View Store projections, Outbox, and Event Bus.
type Event struct {
	EventID       string         `json:"eventId"`
	EventType     string         `json:"eventType"`
	EventVersion  string         `json:"eventVersion"`
	Source        string         `json:"source"`
	Timestamp     int64          `json:"timestamp"` // milliseconds since Unix epoch
	Key           string         `json:"key"`
	CorrelationID string         `json:"correlationId"`
	Saga          *SagaBlock     `json:"saga,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// New constructs an Event with a fresh id and version/timestamp defaults
// filled in. Callers set Saga afterward when producing saga-scoped events.
func New(eventType, source, key, correlationID string, payload map[string]any) (*Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event: eventType must not be empty")
	}
	if len(eventType) > 128 {
		return nil, fmt.Errorf("event: eventType exceeds 128 characters")
	}
	if key == "" {
		return nil, fmt.Errorf("event: key must not be empty")
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  DefaultVersion,
		Source:        source,
		Timestamp:     time.Now().UnixMilli(),
		Key:           key,
		CorrelationID: correlationID,
		Payload:       payload,
	}, nil
}

// WithSaga attaches saga coordinates and returns the event for chaining.
func (e *Event) WithSaga(sagaID, sagaType string, stepNumber int32, isCompensating bool) *Event {
	e.Saga = &SagaBlock{
		SagaID:         sagaID,
		SagaType:       sagaType,
		StepNumber:     stepNumber,
		IsCompensating: isCompensating,
	}
	return e
}

// Time returns the event's timestamp as a time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Marshal serializes the event to its wire JSON form.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a wire-format event. Unknown top-level fields are
// ignored by encoding/json's default behavior, satisfying the
// backward-compatibility requirement that field addition never breaks
// older consumers.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("event: unmarshal: %w", err)
	}
	return &e, nil
}
