package domain

import "errors"

// Error kinds returned by the engine. Services wrap them with a message
// naming the broken rule, e.g.
//
//	fmt.Errorf("%w: confidence 1.4 outside [0,1]", ErrValidation)
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrAlreadyRedacted = errors.New("already redacted")
	ErrConflict        = errors.New("conflict")
	ErrStorage         = errors.New("storage failure")
)

// ErrorCode returns a stable machine-readable code for err, or "internal"
// when err carries none of the engine kinds.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyRedacted):
		return "already_redacted"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStorage):
		return "storage_failure"
	}
	return "internal"
}

// Retryable reports whether the caller should re-read and retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
