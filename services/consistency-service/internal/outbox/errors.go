package outbox

import "errors"

var (
	ErrStatusInvalid     = errors.New("invalid outbox status")
	ErrTransitionInvalid = errors.New("invalid outbox status transition")
	ErrEntryNotFound     = errors.New("outbox entry not found")
	ErrStoreRequired     = errors.New("outbox store is required")
	ErrBusRequired       = errors.New("bus is required")
)

// PermanentError marks a publish failure that retrying cannot fix
// (malformed payload, schema mismatch). The publisher dead-letters these
// immediately without consuming retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
