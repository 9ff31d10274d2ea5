package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrUnknownCommand is returned when no handler is registered for the
	// command type.
	ErrUnknownCommand = errors.New("command: unknown command type")
	// ErrHandlerExists is returned when a type is registered twice.
	ErrHandlerExists = errors.New("command: handler already registered")
)

// Handler executes one command type. Handlers are expected to run their
// mutation and event emission through outbox.Runner.ExecuteWithOutbox.
type Handler func(ctx context.Context, cmd Command) error

// Registry is a closed mapping from command type to handler. All handlers
// are registered during wiring; dispatch never falls back to reflection or
// dynamic lookup.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(commandType string, h Handler) error {
	if _, exists := r.handlers[commandType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, commandType)
	}
	r.handlers[commandType] = h
	return nil
}

// MustRegister panics on duplicate registration; wiring errors are fatal.
func (r *Registry) MustRegister(commandType string, h Handler) {
	if err := r.Register(commandType, h); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(commandType string) (Handler, bool) {
	h, ok := r.handlers[commandType]
	return h, ok
}

// Bus dispatches commands to their registered handler.
type Bus struct {
	registry *Registry
	logger   *slog.Logger
}

func NewBus(registry *Registry, logger *slog.Logger) *Bus {
	return &Bus{registry: registry, logger: logger}
}

// ExecuteCommand validates cmd, resolves its handler and runs it. The error
// from the handler is returned unmodified so callers can branch on their own
// sentinels.
func (b *Bus) ExecuteCommand(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	handler, ok := b.registry.lookup(cmd.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}

	ctx, span := otel.Tracer("command").Start(ctx, "command.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("command.type", cmd.Type),
		attribute.String("command.aggregate_id", cmd.AggregateID),
	)

	started := time.Now()
	err := handler(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		b.logger.Warn("command failed",
			"command_type", cmd.Type,
			"command_id", cmd.ID,
			"aggregate_id", cmd.AggregateID,
			"duration", time.Since(started),
			"error", err,
		)
		return err
	}

	b.logger.Debug("command executed",
		"command_type", cmd.Type,
		"command_id", cmd.ID,
		"aggregate_id", cmd.AggregateID,
		"duration", time.Since(started),
	)
	return nil
}
