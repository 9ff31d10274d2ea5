// Package command is the write-side entry point. Every business mutation is
// expressed as a Command dispatched through the Bus to a registered handler;
// handlers persist their changes and emit events through the outbox runner so
// mutation and publication stay atomic.
package command

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTypeRequired        = errors.New("command: type is required")
	ErrAggregateIDRequired = errors.New("command: aggregate id is required")
	ErrPayloadNotJSON      = errors.New("command: payload is not valid JSON")
)

// Command is one requested mutation. CorrelationID ties it to the business
// flow that produced it; CausationID names the event or command that caused
// it directly.
type Command struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregateId"`
	TenantID      string          `json:"tenantId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	IssuedAt      time.Time       `json:"issuedAt"`
}

// New builds a command with a fresh id and timestamp.
func New(commandType, aggregateID string, payload json.RawMessage) (Command, error) {
	cmd := Command{
		ID:          uuid.New(),
		Type:        commandType,
		AggregateID: aggregateID,
		Payload:     payload,
		IssuedAt:    time.Now().UTC(),
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (c Command) Validate() error {
	if c.Type == "" {
		return ErrTypeRequired
	}
	if c.AggregateID == "" {
		return ErrAggregateIDRequired
	}
	if len(c.Payload) > 0 && !json.Valid(c.Payload) {
		return ErrPayloadNotJSON
	}
	return nil
}
