// Package store holds the pieces shared by the message and user store
// implementations: error wrapping and query timeouts.
package store

import (
	"errors"
	"fmt"

	"github.com/nfrund/pairchat/internal/domain"
)

// ErrQueryFailed marks errors returned by the underlying database driver.
var ErrQueryFailed = errors.New("query execution failed")

// DBError carries the failed operation and query alongside the driver error.
type DBError struct {
	err   error
	op    string
	query string
}

// NewDBError wraps err with the operation that produced it.
func NewDBError(err error, op string) *DBError {
	return &DBError{err: err, op: op}
}

// WithQuery records the statement that failed.
func (e *DBError) WithQuery(query string) *DBError {
	e.query = query
	return e
}

func (e *DBError) Error() string {
	msg := e.op
	if e.query != "" {
		msg = fmt.Sprintf("%s (query: %s)", msg, e.query)
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DBError) Unwrap() error {
	return e.err
}

// Is reports ErrQueryFailed for any driver failure and otherwise defers to
// the wrapped error, so errors.Is(err, domain.ErrNotFound) works through it.
func (e *DBError) Is(target error) bool {
	if target == ErrQueryFailed {
		return !errors.Is(e.err, domain.ErrNotFound) && !errors.Is(e.err, domain.ErrUserExists)
	}
	return false
}

// Wrap returns nil for a nil err and a DBError otherwise.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return NewDBError(err, op)
}
