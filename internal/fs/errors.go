// Package fs exposes the contents of a Zip payload as a read-only FUSE
// filesystem.
//
// This file contains error types and error handling utilities.
package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"appack/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrPathNotFound indicates a path doesn't exist in the image
	ErrPathNotFound = errors.New("path not found in image")

	// ErrUnsafePath indicates an archive entry tries to escape the tree
	// root, e.g. via a leading separator or a parent reference
	ErrUnsafePath = errors.New("unsafe path in archive entry")

	// ErrCorruptEntry indicates an entry's compressed stream cannot be
	// decompressed
	ErrCorruptEntry = errors.New("corrupt compressed entry")

	// ErrReadOnly indicates attempt to modify the read-only image
	ErrReadOnly = errors.New("image filesystem is read-only")

	// ErrUnsupportedMethod indicates an entry uses a compression method
	// other than store or deflate
	ErrUnsupportedMethod = errors.New("unsupported compression method")
)

// Error wraps filesystem errors with context about the operation and
// affected path to provide more detailed error information.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "read")
	Path string // Affected path
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

// ToFuseError converts an error to the appropriate FUSE error code.
// Read failures on a corrupt entry surface to the specific caller as an
// I/O error; they never tear the mount down.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var fsErr *Error
	if errors.As(err, &fsErr) {
		errLogger.Trace("Converting fs error to FUSE error: %v", fsErr)

		switch {
		case errors.Is(fsErr.Err, ErrPathNotFound):
			return syscall.ENOENT
		case errors.Is(fsErr.Err, ErrReadOnly):
			return syscall.EROFS
		case errors.Is(fsErr.Err, ErrUnsafePath):
			return syscall.EPERM
		case errors.Is(fsErr.Err, ErrCorruptEntry), errors.Is(fsErr.Err, ErrUnsupportedMethod):
			return syscall.EIO
		default:
			errLogger.Debug("Unknown fs error, returning EIO: %v", fsErr)
			return syscall.EIO
		}
	}

	errLogger.Trace("Converting standard error to FUSE error: %v", err)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	fsErr := &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
	errLogger.Debug("Created new fs error: %v", fsErr)
	return fsErr
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup  = "lookup"  // Looking up a path
	OpReadDir = "readdir" // Reading directory contents
	OpOpen    = "open"    // Opening a file
	OpRead    = "read"    // Reading from a file
	OpGetattr = "getattr" // Getting file attributes
	OpBuild   = "build"   // Building the directory tree
)
