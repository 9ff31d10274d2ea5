package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
)

// Entry is one staged event in the outbox table. After creation inside the
// business transaction the entry is owned exclusively by the publisher.
type Entry struct {
	ID            uuid.UUID
	Seq           int64 // assigned on insert, orders entries within an aggregate
	AggregateID   string
	AggregateType string
	EventType     string
	TenantID      string
	Payload       []byte // encoded event.DomainEvent envelope
	Traceparent   string
	Tracestate    string
	Status        Status
	RetryCount    int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	ErrorMessage  string
}

// NewEntry stages a domain event for publication.
func NewEntry(evt event.DomainEvent, traceparent, tracestate string) (*Entry, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	payload, err := event.Encode(evt)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Entry{
		ID:            evt.ID,
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		EventType:     evt.EventType,
		TenantID:      evt.TenantID,
		Payload:       payload,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
		Status:        StatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}
