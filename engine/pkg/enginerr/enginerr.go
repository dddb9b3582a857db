// Package enginerr defines the failure taxonomy shared by the accounting
// subsystems. Every failure is synchronous and leaves no partial state behind:
// entry points validate against these conditions before mutating anything.
package enginerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a pool, slot, token or holder reference is invalid.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means a zero amount, out-of-range duration or
	// percentage, or an attempt to shorten an active lock.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized means the caller is not the operator or not a trusted
	// funding source.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStillLocked means a withdrawal was attempted before maturity with no
	// override condition in effect.
	ErrStillLocked = errors.New("still locked")

	// ErrCapacityExceeded means no free lock slot or too many active
	// distribution tokens.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrAlreadyInState means a lifecycle transition to the current state,
	// such as enabling an enabled token or re-removing a removed one.
	ErrAlreadyInState = errors.New("already in state")
)

// Wrap annotates a sentinel with context while keeping errors.Is matching.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
