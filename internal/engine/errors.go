// Package engine defines the error taxonomy shared by every component of the
// response engine.
//
// Components wrap these sentinels with context using fmt.Errorf("...: %w", err)
// and callers branch with errors.Is(). The HTTP layer maps each kind to a
// status code; the dispatcher propagates the first failing step's kind
// unchanged.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates malformed or out-of-enumeration caller input.
	// Never retried automatically.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the entity is absent, or exists in another tenant.
	// The two cases are deliberately indistinguishable so existence never
	// leaks across tenants.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the principal lacks the required role or
	// ownership. Only returned when the caller already knows the entity
	// exists (within-tenant role checks).
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a state-machine violation, such as replying to a
	// resolved conversation.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable indicates a transient store or index failure. The whole
	// operation is safe to retry because every step is idempotent or atomic.
	ErrUnavailable = errors.New("unavailable")
)

// Unavailable marks err as a transient dependency failure while preserving
// its message. Returns nil for a nil err.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
