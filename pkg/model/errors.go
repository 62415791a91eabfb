package model

import (
	"fmt"

	rerrors "github.com/vango-dev/remoting/internal/errors"
)

// Sentinel errors for model store misuse. They are fatal programming errors
// and are never retried.
var (
	// ErrModelExists is returned when a presentation model id is already registered.
	ErrModelExists = rerrors.New(rerrors.CodeModelExists)

	// ErrModelNotFound is returned when a presentation model id is not registered.
	ErrModelNotFound = rerrors.New(rerrors.CodeModelNotFound)

	// ErrAttributeNotFound is returned when an attribute is not registered in the store.
	ErrAttributeNotFound = rerrors.New(rerrors.CodeAttributeNotFound)

	// ErrDuplicateQualifier is returned when two attributes of one model share a qualifier.
	ErrDuplicateQualifier = rerrors.New(rerrors.CodeDuplicateQualifier)

	// ErrAttributeBound is returned when an attribute already belongs to another model or store.
	ErrAttributeBound = rerrors.New(rerrors.CodeAttributeBound)
)

// Error wraps a model store error with the operation and entity id.
type Error struct {
	Op  string // Operation that failed
	ID  string // Presentation model, attribute id or qualifier
	Err error  // Underlying error
}

// Error returns the error message with store context.
func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("model: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("model: %s %q: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, id string, err error) *Error {
	return &Error{Op: op, ID: id, Err: err}
}
