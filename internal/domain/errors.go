package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is matched by every ValidationError.
var ErrInvalidEvent = errors.New("invalid event record")

// ErrIllegalTransition is returned when a forecast lifecycle change is not allowed.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// ValidationError reports a malformed or out-of-range EventRecord field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event record: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEvent
}
