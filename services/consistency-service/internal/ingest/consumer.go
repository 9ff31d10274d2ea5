// Package ingest consumes published events and fans them out to the event
// store, the projection manager and the saga orchestrator. Delivery is
// at-least-once; the inbox and the version-checked stores keep the fan-out
// idempotent.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/bus"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/event"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/eventstore"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/inbox"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/projection"
)

// Stats counts consumer outcomes for the status surface.
type Stats struct {
	Consumed   int64
	Duplicates int64
	Poison     int64
}

// SagaHandler receives every fresh event. Satisfied by saga.Orchestrator.
type SagaHandler interface {
	HandleEvent(ctx context.Context, evt event.DomainEvent) error
}

// Consumer applies one published message end to end.
type Consumer struct {
	inbox       inbox.Repository
	events      eventstore.Store
	projections *projection.Manager
	sagas       SagaHandler
	logger      *slog.Logger

	consumed   atomic.Int64
	duplicates atomic.Int64
	poison     atomic.Int64
}

func NewConsumer(
	dedup inbox.Repository,
	events eventstore.Store,
	projections *projection.Manager,
	sagas SagaHandler,
	logger *slog.Logger,
) *Consumer {
	return &Consumer{
		inbox:       dedup,
		events:      events,
		projections: projections,
		sagas:       sagas,
		logger:      logger,
	}
}

// HandleMessage processes one delivery. A nil return means the message can
// be committed, including duplicates and poison messages that were dropped
// deliberately; a non-nil return asks the transport to redeliver.
func (c *Consumer) HandleMessage(ctx context.Context, msg bus.Message) error {
	evt, err := event.Decode(msg.Value)
	if err != nil {
		c.poison.Add(1)
		c.logger.Error("dropping undecodable message",
			"topic", msg.Topic, "key", string(msg.Key), "error", err)
		return nil
	}

	fresh, err := c.inbox.MarkSeen(ctx, evt.ID, evt.EventType)
	if err != nil {
		return fmt.Errorf("inbox check: %w", err)
	}
	if !fresh {
		c.duplicates.Add(1)
		c.logger.Debug("skipping duplicate delivery",
			"event_id", evt.ID, "event_type", evt.EventType)
		return nil
	}

	if err := c.process(ctx, evt); err != nil {
		// The inbox record must not outlive a failed attempt, or the
		// redelivery would be mistaken for a processed duplicate.
		if forgetErr := c.inbox.Forget(ctx, evt.ID); forgetErr != nil {
			c.logger.Error("inbox release failed",
				"event_id", evt.ID, "error", forgetErr)
		}
		return err
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, evt event.DomainEvent) error {
	switch err := c.events.Append(ctx, []event.DomainEvent{evt}); {
	case err == nil:
	case errors.Is(err, eventstore.ErrDuplicateEvent):
		// Already stored, either by the producer's command transaction
		// or by an earlier delivery; the fan-out below dedupes by version.
	case errors.Is(err, eventstore.ErrVersionConflict):
		// An event that can never apply. Dropping it keeps the
		// partition moving; the conflict stays visible in the stats.
		c.poison.Add(1)
		c.logger.Error("dropping event with conflicting version",
			"event_id", evt.ID,
			"event_type", evt.EventType,
			"aggregate_id", evt.AggregateID,
			"event_version", evt.EventVersion,
			"error", err,
		)
		return nil
	default:
		return fmt.Errorf("append event: %w", err)
	}

	for _, name := range c.projections.Names() {
		if err := c.projections.ApplyEvent(ctx, name, evt); err != nil {
			return fmt.Errorf("project %s: %w", name, err)
		}
	}
	if err := c.sagas.HandleEvent(ctx, evt); err != nil {
		return fmt.Errorf("saga trigger: %w", err)
	}

	c.consumed.Add(1)
	return nil
}

func (c *Consumer) Stats() Stats {
	return Stats{
		Consumed:   c.consumed.Load(),
		Duplicates: c.duplicates.Load(),
		Poison:     c.poison.Load(),
	}
}

// Drain consumes a subscription channel until ctx is canceled or the channel
// closes. Callers subscribe before publishing anything so no message can slip
// past the subscription. Used by tests and local runs.
func (c *Consumer) Drain(ctx context.Context, sub <-chan bus.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub:
			if !ok {
				return nil
			}
			if err := c.HandleMessage(ctx, msg); err != nil {
				c.logger.Error("message handling failed", "topic", msg.Topic, "error", err)
			}
		}
	}
}
