package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"lazyns/internal/loader"
	"lazyns/internal/logging"
	"lazyns/internal/namespace"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrInvalidPath indicates a name that cannot be a binding name
	ErrInvalidPath = errors.New("invalid path format")

	// ErrReadOnly indicates attempt to modify the read-only view
	ErrReadOnly = errors.New("filesystem is read-only")
)

// Error wraps a failure with the operation and the affected path in the
// view.
type Error struct {
	Op   string // Operation that failed (e.g., "lookup", "readdir")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface
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

// ToFuseError translates resolution and filesystem errors into the errno
// values FUSE expects.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var circular *namespace.CircularError
	var mismatch *loader.NameMismatchError
	var naming *loader.NamingError

	switch {
	case errors.As(err, &circular):
		return syscall.ELOOP
	case errors.Is(err, namespace.ErrUndefined),
		errors.Is(err, loader.ErrIgnored),
		errors.Is(err, loader.ErrShadowed),
		errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, namespace.ErrNotNamespace):
		return syscall.ENOTDIR
	case errors.Is(err, ErrInvalidPath), errors.Is(err, namespace.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	case errors.As(err, &mismatch), errors.As(err, &naming):
		return syscall.EIO
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return syscall.EIO
	}
}

// NewFSError creates a new Error with the given operation, path, and underlying error
func NewFSError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// Operation names for logging and error reporting
const (
	OpLookup  = "lookup"  // Looking up a name
	OpOpen    = "open"    // Opening a file
	OpRead    = "read"    // Rendering a binding
)

// IsTemporary reports whether the operation could succeed if retried: the
// request was interrupted or the system was busy.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	case errors.Is(err, syscall.ETIMEDOUT):
		return true
	default:
		return false
	}
}
