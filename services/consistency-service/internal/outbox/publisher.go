package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rezaul-kabir/gridbase/libs/backoff"
	"github.com/rezaul-kabir/gridbase/libs/breaker"
	otelx "github.com/rezaul-kabir/gridbase/libs/otel"
	"github.com/rezaul-kabir/gridbase/services/consistency-service/internal/bus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PublisherConfig carries the externally configurable knobs; zero values are
// normalized in NewPublisher so nothing is hard-coded in the loop itself.
type PublisherConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	FailureThreshold uint32
	OpenDuration     time.Duration
	// StuckAfter is the visibility timeout for processing entries left
	// behind by a crashed publisher.
	StuckAfter time.Duration
}

// Publisher drains the outbox to the bus: claim, publish, settle. Multiple
// instances can run concurrently against the same table; the store's claim
// operation guarantees exclusive ownership of each entry.
type Publisher struct {
	store   Store
	bus     bus.Bus
	logger  *slog.Logger
	breaker *breaker.Breaker
	cfg     PublisherConfig
}

func NewPublisher(store Store, b bus.Bus, logger *slog.Logger, cfg PublisherConfig) (*Publisher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if b == nil {
		return nil, ErrBusRequired
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 500 * time.Millisecond
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 5 * time.Minute
	}

	cb := breaker.New(breaker.Config{
		Name:             "outbox-publisher",
		FailureThreshold: cfg.FailureThreshold,
		OpenDuration:     cfg.OpenDuration,
		OnStateChange: func(name string, from, to breaker.State) {
			logger.Warn("publisher circuit breaker state change",
				"breaker", name, "from", string(from), "to", string(to))
		},
	})

	return &Publisher{
		store:   store,
		bus:     b,
		logger:  logger,
		breaker: cb,
		cfg:     cfg,
	}, nil
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishDue(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox publish pass failed", "err", err)
			}
			if _, err := p.store.ResetStuck(ctx, time.Now().UTC().Add(-p.cfg.StuckAfter)); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox stuck sweep failed", "err", err)
			}
		}
	}
}

// PublishDue claims one batch of due entries and settles every one of them:
// processed on success, failed with backoff on transient errors, dead_letter
// when the retry budget is exhausted or the error is permanent, and released
// untouched while the circuit breaker is open.
func (p *Publisher) PublishDue(ctx context.Context) error {
	now := time.Now().UTC()
	claimed, err := p.store.Claim(ctx, p.cfg.BatchSize, now)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	for i, entry := range claimed {
		err := p.publishOne(ctx, entry)
		if err == nil {
			continue
		}
		if errors.Is(err, breaker.ErrOpen) {
			// Leave this and everything behind it for the next pass
			// without burning their retry budget.
			rest := make([]uuid.UUID, 0, len(claimed)-i)
			for _, e := range claimed[i:] {
				rest = append(rest, e.ID)
			}
			if relErr := p.store.Release(ctx, rest); relErr != nil {
				return relErr
			}
			return nil
		}
		return err
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, entry Entry) error {
	msgCtx := otelx.ContextWithTraceContext(ctx, entry.Traceparent, entry.Tracestate)
	msgCtx, span := otel.Tracer("outbox").Start(msgCtx, "outbox.publish",
		trace.WithAttributes(
			attribute.String("messaging.destination", entry.EventType),
			attribute.String("outbox.aggregate_id", entry.AggregateID),
		),
	)
	defer span.End()

	// Serialization failures cannot succeed on retry; dead-letter without
	// consuming retry budget.
	if !json.Valid(entry.Payload) {
		err := errors.New("outbox payload is not valid JSON")
		span.RecordError(err)
		p.logger.Error("outbox entry dead-lettered (malformed payload)",
			"entry_id", entry.ID, "event_type", entry.EventType)
		return p.store.MarkDeadLetter(ctx, entry.ID, err.Error())
	}

	msg := bus.Message{
		Topic: entry.EventType,
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: []bus.Header{
			{Key: "event_id", Value: []byte(entry.ID.String())},
			{Key: "event_type", Value: []byte(entry.EventType)},
			{Key: "tenant_id", Value: []byte(entry.TenantID)},
		},
	}

	err := p.breaker.Execute(func() error {
		return p.bus.Publish(msgCtx, msg)
	})
	switch {
	case err == nil:
		return p.store.MarkProcessed(ctx, entry.ID, time.Now().UTC())
	case errors.Is(err, breaker.ErrOpen):
		return err
	case IsPermanent(err):
		span.RecordError(err)
		p.logger.Error("outbox entry dead-lettered (permanent failure)",
			"entry_id", entry.ID, "event_type", entry.EventType, "err", err)
		return p.store.MarkDeadLetter(ctx, entry.ID, err.Error())
	default:
		span.RecordError(err)
		attempts := entry.RetryCount + 1
		if attempts >= p.cfg.MaxRetries {
			p.logger.Error("outbox entry dead-lettered (retries exhausted)",
				"entry_id", entry.ID, "event_type", entry.EventType,
				"attempts", attempts, "err", err)
			return p.store.MarkDeadLetter(ctx, entry.ID, err.Error())
		}
		delay := backoff.ExponentialWithJitter(p.cfg.RetryBackoffBase, entry.RetryCount, p.cfg.RetryBackoffMax)
		p.logger.Warn("outbox publish failed, will retry",
			"entry_id", entry.ID, "event_type", entry.EventType,
			"attempt", attempts, "retry_in", delay, "err", err)
		return p.store.MarkFailed(ctx, entry.ID, err.Error(), time.Now().UTC().Add(delay))
	}
}

// BreakerState exposes the breaker for readiness probes and tests.
func (p *Publisher) BreakerState() breaker.State {
	return p.breaker.State()
}
