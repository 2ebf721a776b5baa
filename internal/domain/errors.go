package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed or out-of-range reading or tank update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

// InvalidStateError is returned when a lifecycle transition is not legal from the current status.
type InvalidStateError struct {
	ID     string
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s alert %s in status %s", e.Op, e.ID, e.Status)
}

// DeliveryError wraps a failed downstream call (relay, drone, municipality).
// It is logged as PENDING_RETRY and never rolls back engine state.
type DeliveryError struct {
	Target string
	Err    error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("delivery to %s failed: %v", e.Target, e.Err) }

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrorKind discriminates engine errors for transport layers.
func ErrorKind(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		is *InvalidStateError
		de *DeliveryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &is):
		return "invalid_state"
	case errors.As(err, &de):
		return "delivery"
	}
	return "internal"
}
