package zipmeta

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedArchive indicates the archive container structures are
	// damaged or inconsistent. Raised at build time; never retried.
	ErrMalformedArchive = errors.New("malformed zip archive")

	// ErrNotAPolyglot indicates a file carries no appended Zip payload,
	// e.g. a bare bootstrap stub.
	ErrNotAPolyglot = errors.New("no zip payload appended to file")
)

// Error wraps zip container errors with the operation and affected path
// so callers can report what failed without re-deriving context.
type Error struct {
	Op   string // Operation that failed (e.g., "rebase", "locate")
	Path string // Affected path, if any
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}
