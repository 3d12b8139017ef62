package sqldb

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"gorm.io/gorm"
)

// Error implements repositories.RepositoryError for gorm backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a constraint violation.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the database could not be reached.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

// NotFound builds a not-found error for lookups that matched no rows.
func NotFound(op string) error {
	return &Error{op: op, err: gorm.ErrRecordNotFound, notFound: true}
}

// Conflict builds a conflict error around cause.
func Conflict(op string, cause error) error {
	return &Error{op: op, err: cause, conflict: true}
}

// WrapError annotates gorm errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr
	}

	e := &Error{op: op, err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		e.notFound = true
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		e.conflict = true
	case errors.Is(err, driver.ErrBadConn), errors.As(err, &netErr):
		e.unavailable = true
	}
	return e
}
