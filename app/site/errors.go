package site

import (
	"errors"
	"fmt"
	"strings"

	"github.com/umputun/sitemaster/app/enums"
	"github.com/umputun/sitemaster/app/store"
)

// Violation is a single failed field rule
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (v Violation) String() string { return v.Field + " " + v.Reason }

// ValidationError lists every rule violation found in a document
type ValidationError struct {
	Collection enums.Collection `json:"collection"`
	Violations []Violation      `json:"violations"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return strings.Join(msgs, ", ")
}

// NotFoundError is returned when an operation targets a missing document
type NotFoundError struct {
	Collection enums.Collection
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Collection, e.ID)
}

// ConflictError is returned when a write lost a race against another write of the same document
type ConflictError struct {
	Collection enums.Collection
	ID         string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting write to %s %q: %v", e.Collection, e.ID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// UnexpectedStoreError wraps any other storage failure
type UnexpectedStoreError struct {
	Op  string
	Err error
}

func (e *UnexpectedStoreError) Error() string {
	return fmt.Sprintf("store failure on %s: %v", e.Op, e.Err)
}

func (e *UnexpectedStoreError) Unwrap() error { return e.Err }

// storeError maps store sentinel errors to the site error taxonomy
func storeError(op string, c enums.Collection, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Collection: c, ID: id}
	case errors.Is(err, store.ErrConflict):
		return &ConflictError{Collection: c, ID: id, Err: err}
	}
	return &UnexpectedStoreError{Op: op + " " + string(c), Err: err}
}
