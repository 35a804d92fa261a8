package service

import (
	"context"
	"errors"
	"fmt"
)

// Error categories. Every error returned by a vertical entry point wraps
// exactly one of them.
var (
	ErrValidation  = errors.New("validation error")
	ErrInference   = errors.New("inference failure")
	ErrPersistence = errors.New("persistence failure")
	ErrTimeout     = errors.New("inference timeout")
)

// Error is a categorised failure of one vertical.
type Error struct {
	Vertical string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Vertical, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

func newError(vertical string, kind, err error) *Error {
	return &Error{Vertical: vertical, Kind: kind, Err: err}
}

func validationError(vertical, format string, args ...any) *Error {
	return newError(vertical, ErrValidation, fmt.Errorf(format, args...))
}

// inferenceError classifies a failure of the bounded resolve and infer step.
func inferenceError(vertical string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(vertical, ErrTimeout, err)
	}
	return newError(vertical, ErrInference, err)
}

// KindLabel names the category of err for metrics and logs.
func KindLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInference):
		return "inference"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}
