package outbox

import "fmt"

// Status is an outbox entry lifecycle state. Entries move
// pending -> processing -> processed on the happy path; transient publish
// failures park the entry as failed until its next attempt, and exhausted or
// permanent failures end in dead_letter.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, raw)
	}
	return s, nil
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed, StatusDeadLetter:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the entry will never be attempted again.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusDeadLetter
}

// CanTransitionTo encodes the allowed lifecycle edges. Only the publisher
// moves entries between states; business code never touches status.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusFailed:
		return next == StatusProcessing
	case StatusProcessing:
		// pending is the release path when the circuit breaker is open.
		return next == StatusProcessed || next == StatusFailed || next == StatusDeadLetter || next == StatusPending
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
