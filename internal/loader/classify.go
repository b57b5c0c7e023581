package loader

import (
	"path/filepath"

	"lazyns/internal/registry"
)

// Class is the classification of a path.
type Class int

const (
	// Normal paths are installed and eager loaded.
	Normal Class = iota
	// EagerExcluded paths are installed but skipped by eager loading.
	EagerExcluded
	// Collapsed directories contribute to their parent's namespace.
	Collapsed
	// Ignored paths are invisible to the loader.
	Ignored
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case EagerExcluded:
		return "eager-excluded"
	case Collapsed:
		return "collapsed"
	case Ignored:
		return "ignored"
	default:
		return "normal"
	}
}

// Classifier keeps the user patterns for ignored, collapsed and
// eager-excluded paths together with their expansion against the file
// system. Patterns are absolute; expansion is redone by Recompute.
type Classifier struct {
	ignoredGlobs  []string
	collapseGlobs []string
	eagerGlobs    []string

	ignoredPaths    map[string]bool
	collapseDirs    map[string]bool
	eagerExclusions map[string]bool
}

func newClassifier() *Classifier {
	return &Classifier{
		ignoredPaths:    make(map[string]bool),
		collapseDirs:    make(map[string]bool),
		eagerExclusions: make(map[string]bool),
	}
}

// Ignore adds patterns for paths the loader must not see.
func (c *Classifier) Ignore(patterns ...string) error {
	abs, err := absPatterns(patterns)
	if err != nil {
		return err
	}
	c.ignoredGlobs = append(c.ignoredGlobs, abs...)
	return expandInto(c.ignoredPaths, abs)
}

// Collapse adds patterns for directories that do not introduce a namespace.
func (c *Classifier) Collapse(patterns ...string) error {
	abs, err := absPatterns(patterns)
	if err != nil {
		return err
	}
	c.collapseGlobs = append(c.collapseGlobs, abs...)
	return expandInto(c.collapseDirs, abs)
}

// ExcludeFromEagerLoad adds patterns for paths eager loading skips.
func (c *Classifier) ExcludeFromEagerLoad(patterns ...string) error {
	abs, err := absPatterns(patterns)
	if err != nil {
		return err
	}
	c.eagerGlobs = append(c.eagerGlobs, abs...)
	return expandInto(c.eagerExclusions, abs)
}

// Recompute expands every pattern again against the current file system.
func (c *Classifier) Recompute() error {
	c.ignoredPaths = make(map[string]bool)
	c.collapseDirs = make(map[string]bool)
	c.eagerExclusions = make(map[string]bool)
	if err := expandInto(c.ignoredPaths, c.ignoredGlobs); err != nil {
		return err
	}
	if err := expandInto(c.collapseDirs, c.collapseGlobs); err != nil {
		return err
	}
	return expandInto(c.eagerExclusions, c.eagerGlobs)
}

// Ignored reports whether path, or one of its ancestors, is ignored.
func (c *Classifier) Ignored(path string) bool {
	if c.ignoredPaths[path] {
		return true
	}
	for ignored := range c.ignoredPaths {
		if registry.Contains(ignored, path) {
			return true
		}
	}
	return false
}

// Collapsed reports whether dir is collapsed.
func (c *Classifier) Collapsed(dir string) bool {
	return c.collapseDirs[dir]
}

// EagerExcluded reports whether path itself is excluded from eager loading.
func (c *Classifier) EagerExcluded(path string) bool {
	return c.eagerExclusions[path]
}

// Classify returns the class of path. Ignored wins over collapsed, which
// wins over eager-excluded.
func (c *Classifier) Classify(path string) Class {
	switch {
	case c.Ignored(path):
		return Ignored
	case c.Collapsed(path):
		return Collapsed
	case c.EagerExcluded(path):
		return EagerExcluded
	default:
		return Normal
	}
}

func absPatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}

func expandInto(set map[string]bool, patterns []string) error {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return &Error{Op: "expand", Path: pattern, Err: err}
		}
		for _, m := range matches {
			set[m] = true
		}
	}
	return nil
}
