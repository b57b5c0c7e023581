package loader

import (
	"errors"
	"fmt"

	"lazyns/internal/registry"
)

var (
	// ErrReloadingDisabled is returned by Reload when EnableReloading was not
	// called before the first Setup.
	ErrReloadingDisabled = errors.New("cannot reload, reloading is disabled")

	// ErrSetupRequired indicates an operation that needs Setup to have run.
	ErrSetupRequired = errors.New("loader is not set up")

	// ErrAlreadySetup is returned by EnableReloading after Setup.
	ErrAlreadySetup = errors.New("cannot enable reloading after setup")

	// ErrNotManaged indicates a path outside every root directory.
	ErrNotManaged = errors.New("path is not managed by this loader")

	// ErrIgnored indicates a path excluded with Ignore.
	ErrIgnored = errors.New("path is ignored")

	// ErrShadowed indicates a source file whose binding is defined elsewhere.
	ErrShadowed = errors.New("file is shadowed")

	// ErrNotSource indicates a file the evaluator does not handle.
	ErrNotSource = errors.New("not a source file")
)

// ConflictError reports two loaders managing overlapping directories.
type ConflictError = registry.ConflictError

// Error wraps a failure with the operation and path it concerns.
type Error struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid root directory or namespace.
type ConfigurationError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s %s", e.Path, e.Reason)
}

// NamingError reports a basename the inflector could not turn into a
// valid binding name.
type NamingError struct {
	Path  string
	Name  string
	IsDir bool
}

// Error implements the error interface.
func (e *NamingError) Error() string {
	kind := "file"
	if e.IsDir {
		kind = "directory"
	}
	return fmt.Sprintf("wrong binding name %q inferred from %s %s; ignore the %s, rename it, or add an inflection",
		e.Name, kind, e.Path, kind)
}

// NameMismatchError reports a source file that did not define the binding
// its name implies.
type NameMismatchError struct {
	Path     string
	Expected string
}

// Error implements the error interface.
func (e *NameMismatchError) Error() string {
	return fmt.Sprintf("expected file %s to define binding %s, but didn't", e.Path, e.Expected)
}

// Common operation names for error reporting.
const (
	OpPush      = "push"
	OpSetup     = "setup"
	OpEagerLoad = "eager load"
	OpLoadFile  = "load file"
	OpExpected  = "expected path"
)
