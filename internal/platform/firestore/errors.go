package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op   string
	err  error
	code codes.Code
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool { return e.code == codes.NotFound }

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool {
	switch e.code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool {
	switch e.code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return errors.Is(e.err, ErrProviderClosed)
}

// NotFound builds a not-found error for documents that decode to nothing usable.
func NotFound(op string) error {
	return &Error{op: op, err: errors.New("document not found"), code: codes.NotFound}
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr
	}
	return &Error{op: op, err: err, code: code}
}
