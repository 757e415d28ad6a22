package services

import (
	"errors"
	"fmt"
)

// ErrForbidden is returned when the caller may not perform an operation
var ErrForbidden = errors.New("forbidden")

// ValidationError reports a bad input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
