// Package errors provides small helpers layered on top of the standard
// library's errors package, used throughout mcp-gateway instead of
// hand-rolled wrapping.
package errors

import (
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps err with additional context.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is is a convenience re-export of errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience re-export of errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap is a convenience re-export of errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// UserVisibleError is implemented by errors that carry an operator-facing
// message distinct from the wrapped internal detail.
type UserVisibleError interface {
	error
	IsUserVisible() bool
	UserMessage() string
	Suggestion() string
}
