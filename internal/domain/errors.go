package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrRoleConflict       = errors.New("role conflict")
	ErrUnknownParty       = errors.New("unknown party")
	ErrValidation         = errors.New("validation failed")
	ErrTimeout            = errors.New("timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrLockHeld           = errors.New("lock already held")

	// ErrIDCollision reports that a freshly drawn identifier is already in
	// use. It matches ErrConflict; services retry it with a new identifier.
	ErrIDCollision = fmt.Errorf("%w: identifier collision", ErrConflict)
)

// UnknownPartyError lists the usernames referenced by a transaction that are
// not registered. It matches ErrUnknownParty with errors.Is.
type UnknownPartyError struct {
	Usernames []string
}

func (e *UnknownPartyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownParty, strings.Join(e.Usernames, ", "))
}

func (e *UnknownPartyError) Unwrap() error { return ErrUnknownParty }

// Validationf returns an error wrapping ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind returns a short machine-readable name for the error's category, or
// "internal" if err does not wrap one of the domain sentinels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrRoleConflict):
		return "role_conflict"
	case errors.Is(err, ErrUnknownParty):
		return "unknown_party"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrLockHeld):
		return "lock_held"
	default:
		return "internal"
	}
}
