// Package breaker wraps sony/gobreaker with the states and thresholds used
// by the outbox publisher: a configurable run of consecutive failures opens
// the breaker for a fixed duration, after which a single trial is allowed.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Execute when the breaker rejects the call without
// attempting it (open, or half-open with the trial slot already taken).
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenDuration is how long the breaker stays open before allowing a trial.
	OpenDuration time.Duration
	// OnStateChange is an optional hook for logging transitions.
	OnStateChange func(name string, from, to State)
}

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // one trial while half-open
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	if cfg.OnStateChange != nil {
		hook := cfg.OnStateChange
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			hook(name, fromGobreaker(from), fromGobreaker(to))
		}
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When the breaker refuses the call,
// ErrOpen is returned and fn is never invoked.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
