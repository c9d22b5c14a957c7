// README: Closed set of ride error kinds surfaced to callers.
package ride

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("ride not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("ride state conflict")
	ErrStoreUnavailable  = errors.New("ride store unavailable")

	// ErrVersionConflict is returned by stores when the expected version no longer matches.
	ErrVersionConflict = errors.New("version conflict")
)

type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindStoreUnavailable  Kind = "store_unavailable"
)

// KindOf classifies an error returned by Service. Errors from outside the
// package classify as KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	}
	return KindUnknown
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports a transition attempted from a status that does not allow it.
type TransitionError struct {
	Transition Transition
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s ride: status %s does not lead to %s", e.Transition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func forbidden(a Actor, op string) error {
	return fmt.Errorf("%w: %s %q may not %s this ride", ErrForbidden, a.Role, a.ID, op)
}

// storeError folds a raw store error into the caller-facing taxonomy. Context
// cancellation lands in ErrStoreUnavailable: the write either committed or did not.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, ErrVersionConflict):
		return fmt.Errorf("%w: ride changed concurrently", ErrConflict)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
