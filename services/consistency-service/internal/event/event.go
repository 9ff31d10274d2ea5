package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	ErrEventTypeRequired   = errors.New("event type is required")
	ErrPayloadRequired     = errors.New("event payload is required")
	ErrPayloadNotJSON      = errors.New("event payload must be valid JSON")
	ErrVersionInvalid      = errors.New("event version must be positive")
)

// DomainEvent is the immutable envelope that flows outbox -> bus -> event
// store -> projections. The Kafka topic name equals EventType and the
// message key equals AggregateID, which pins every aggregate to a single
// partition and preserves per-aggregate ordering on the wire.
type DomainEvent struct {
	ID            uuid.UUID         `json:"id"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	EventVersion  int64             `json:"event_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// New builds a validated DomainEvent with a fresh ID and UTC timestamp.
func New(aggregateType, aggregateID, eventType string, version int64, payload []byte) (DomainEvent, error) {
	evt := DomainEvent{
		ID:            uuid.New(),
		AggregateID:   strings.TrimSpace(aggregateID),
		AggregateType: strings.TrimSpace(aggregateType),
		EventType:     strings.TrimSpace(eventType),
		EventVersion:  version,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
	if err := evt.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return evt, nil
}

func (e DomainEvent) Validate() error {
	if e.AggregateID == "" {
		return ErrAggregateIDRequired
	}
	if e.EventType == "" {
		return ErrEventTypeRequired
	}
	if e.EventVersion < 1 {
		return fmt.Errorf("%w (got %d)", ErrVersionInvalid, e.EventVersion)
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(e.Payload) {
		return ErrPayloadNotJSON
	}
	return nil
}

// Encode serializes the event for the bus.
func Encode(e DomainEvent) ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes a bus message body and re-validates it so malformed
// payloads are caught at the consumer boundary.
func Decode(data []byte) (DomainEvent, error) {
	var e DomainEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return DomainEvent{}, fmt.Errorf("decode domain event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}
