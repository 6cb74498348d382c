package physics

import (
	"errors"
	"fmt"
)

// ErrComputation is matched by every ComputationError.
var ErrComputation = errors.New("physics computation failed")

// ComputationError reports a mathematically undefined or non-convergent
// model evaluation. Callers treat it as "source unavailable".
type ComputationError struct {
	Model  string
	Reason string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("physics computation failed: %s: %s", e.Model, e.Reason)
}

func (e *ComputationError) Is(target error) bool {
	return target == ErrComputation
}

func computationErr(model, format string, args ...any) error {
	return &ComputationError{Model: model, Reason: fmt.Sprintf(format, args...)}
}
