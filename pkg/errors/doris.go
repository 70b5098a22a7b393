package errors

import (
	"errors"
	"fmt"
)

// ConnectionError reports a failure to reach the Doris frontend, after the
// retry policy has been exhausted. It carries the last cause and the number
// of attempts made.
type ConnectionError struct {
	Op       string
	Host     string
	Port     int
	Attempts int
	Cause    error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s failed after %d attempts", e.Op, e.Attempts)
	if e.Host != "" {
		msg = fmt.Sprintf("%s (host=%s:%d)", msg, e.Host, e.Port)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// StreamLoadError reports a Stream Load request that reached the frontend
// but was rejected with a non-success status.
type StreamLoadError struct {
	Message      string
	Status       string
	ErrorURL     string
	LoadedRows   int64
	FilteredRows int64
}

// Error implements the error interface
func (e *StreamLoadError) Error() string {
	return fmt.Sprintf("stream load %s: %s", e.Status, e.Message)
}

// SchemaError reports an unrecoverable schema problem: invalid identifier,
// type mismatch, incompatible evolution, or an index targeting a missing or
// mistyped column. It names the table and column so an operator can fix the
// live schema or the declared schema without guessing.
type SchemaError struct {
	Message string
	Table   string
	Column  string
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	return e.Message
}

// NewSchemaError creates a SchemaError with a formatted message
func NewSchemaError(table, column, format string, args ...interface{}) *SchemaError {
	return &SchemaError{
		Message: fmt.Sprintf(format, args...),
		Table:   table,
		Column:  column,
	}
}

// IsSchemaError reports whether err is (or wraps) a SchemaError
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
