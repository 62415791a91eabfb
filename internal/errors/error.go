package errors

import (
	"errors"
	"fmt"
)

// Category represents the subsystem an error belongs to.
type Category string

const (
	CategoryModel     Category = "model"
	CategoryProtocol  Category = "protocol"
	CategoryConnector Category = "connector"
	CategoryTransport Category = "transport"
	CategoryConfig    Category = "config"
	CategoryCLI       Category = "cli"
)

// RemotingError is a structured error carrying a registered code.
type RemotingError struct {
	// Code is a unique error identifier (e.g., "R001").
	Code string

	// Category is the subsystem (model, protocol, ...).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Subject identifies the offending entity (model id, attribute id, command kind).
	Subject string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *RemotingError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Subject != "" {
		msg += " '" + e.Subject + "'"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *RemotingError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target carries the same code.
func (e *RemotingError) Is(target error) bool {
	var t *RemotingError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithSubject returns a copy of the error naming the offending entity.
func (e *RemotingError) WithSubject(subject string) *RemotingError {
	c := *e
	c.Subject = subject
	return &c
}

// WithDetail returns a copy of the error with a detailed explanation.
func (e *RemotingError) WithDetail(d string) *RemotingError {
	c := *e
	c.Detail = d
	return &c
}

// Wrap returns a copy of the error wrapping err.
func (e *RemotingError) Wrap(err error) *RemotingError {
	c := *e
	c.Wrapped = err
	return &c
}

// New creates a RemotingError from a registered error code.
func New(code string) *RemotingError {
	template, ok := registry[code]
	if !ok {
		return &RemotingError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &RemotingError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a new RemotingError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *RemotingError {
	return &RemotingError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a RemotingError.
func FromError(err error, code string) *RemotingError {
	if err == nil {
		return nil
	}
	var re *RemotingError
	if errors.As(err, &re) {
		return re
	}
	return New(code).Wrap(err)
}

// CodeOf returns the code of the first RemotingError in err's chain.
func CodeOf(err error) string {
	var re *RemotingError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
