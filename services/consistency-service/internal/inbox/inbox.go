// Package inbox deduplicates incoming events. Delivery from the bus is
// at-least-once; the inbox records every event id it has seen so consumers
// can skip redeliveries.
package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository records seen event ids.
type Repository interface {
	// MarkSeen records the event id and reports whether it was seen for
	// the first time. false means a duplicate delivery.
	MarkSeen(ctx context.Context, eventID uuid.UUID, eventType string) (bool, error)
	// Forget removes a recorded event id so a redelivery is treated as
	// fresh. Consumers call it when processing fails after MarkSeen.
	Forget(ctx context.Context, eventID uuid.UUID) error
	// Purge removes entries older than the cutoff and returns how many
	// were removed.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}
