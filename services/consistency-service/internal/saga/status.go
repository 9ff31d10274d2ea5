package saga

import "fmt"

// Status is the lifecycle state of a saga instance.
type Status string

const (
	// StatusRunning means forward steps are still executing.
	StatusRunning Status = "running"
	// StatusCompleted means every forward step succeeded. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means a forward step failed and compensation has not
	// started yet.
	StatusFailed Status = "failed"
	// StatusCompensating means compensation commands are being issued in
	// reverse order of the completed steps.
	StatusCompensating Status = "compensating"
	// StatusCompensated means every compensation succeeded. Terminal.
	StatusCompensated Status = "compensated"
	// StatusEscalated means a compensation failed and an operator has to
	// intervene. Terminal; never retried automatically.
	StatusEscalated Status = "escalated"
)

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRunning, StatusCompleted, StatusFailed,
		StatusCompensating, StatusCompensated, StatusEscalated:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrStatusInvalid, s)
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusEscalated:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCompensating
	case StatusFailed:
		return next == StatusCompensating
	case StatusCompensating:
		return next == StatusCompensated || next == StatusEscalated
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
