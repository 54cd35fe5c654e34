package task

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrDuplicate = errors.New("duplicate task")
)

// ValidationError reports a construction-time contract violation. It is
// surfaced synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a construction-time validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
