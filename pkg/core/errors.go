package core

import (
	"context"
	"errors"
	"io"
	"net"

	"ovndbsync/pkg/ovsdb"
)

// ErrorCategory describes the class of an error encountered while reconciling.
type ErrorCategory string

const (
	// ErrorCategoryNone indicates no error.
	ErrorCategoryNone ErrorCategory = ""
	// ErrorCategoryConnection indicates the database stream is unusable; the run must abort.
	ErrorCategoryConnection ErrorCategory = "connection"
	// ErrorCategoryEntity indicates a failure confined to one entity; the run continues.
	ErrorCategoryEntity ErrorCategory = "entity"
)

var (
	// ErrMissingParent is returned when a dependent row has no parent row to attach to.
	ErrMissingParent = errors.New("parent row does not exist")
	// ErrInvalidEntity is returned for desired entities that cannot be mapped.
	ErrInvalidEntity = errors.New("invalid desired entity")
)

// ClassifiedError wraps an error with its detected category.
type ClassifiedError struct {
	Err      error
	Category ErrorCategory
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// ClassifyError inspects an error and returns the appropriate category.
// Anything not positively identified as an entity failure is treated as a
// connection failure so that a run never keeps writing through a broken stream.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	if errors.Is(err, ovsdb.ErrNotConnected) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorCategoryConnection
	}
	var opErr *ovsdb.OperationError
	var rpcErr *ovsdb.RPCError
	switch {
	case errors.As(err, &opErr), errors.As(err, &rpcErr):
		return ErrorCategoryEntity
	case errors.Is(err, ErrMissingParent), errors.Is(err, ErrInvalidEntity):
		return ErrorCategoryEntity
	}
	return ErrorCategoryConnection
}
