package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when prediction is attempted before Train or Load.
	ErrNotTrained = errors.New("model not trained")

	// ErrSchemaMismatch is returned when a feature vector does not match the
	// schema the model was trained on.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
)

// ValidationError reports a profile field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid profile field %s: %s", e.Field, e.Reason)
}
