package config

import (
	"fmt"
	"strings"

	"lazyns/internal/inflect"
	"lazyns/internal/logging"
	"lazyns/internal/namespace"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "roots[0].path")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if len(c.Roots) == 0 {
		errs = append(errs, ValidationError{
			Field:   "roots",
			Value:   c.Roots,
			Message: "at least one root directory is required",
		})
	}
	for i, root := range c.Roots {
		field := fmt.Sprintf("roots[%d]", i)
		if root.Path == "" {
			errs = append(errs, ValidationError{Field: field + ".path", Value: root.Path, Message: "must not be empty"})
		}
		for _, name := range namespace.Split(root.Namespace) {
			if !inflect.Valid(name) {
				errs = append(errs, ValidationError{
					Field:   field + ".namespace",
					Value:   root.Namespace,
					Message: fmt.Sprintf("%q is not a valid binding name", name),
				})
				break
			}
		}
	}

	for basename, name := range c.Inflections {
		if !inflect.Valid(name) {
			errs = append(errs, ValidationError{
				Field:   "inflections." + basename,
				Value:   name,
				Message: "must be a valid binding name",
			})
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "must be one of error, warn, info, debug, trace",
		})
	}

	if c.State.Backups < 0 {
		errs = append(errs, ValidationError{
			Field:   "state.backups",
			Value:   c.State.Backups,
			Message: "must not be negative",
		})
	}

	return errs
}
