package loader

import (
	"os"
	"path/filepath"

	"lazyns/internal/namespace"
	"lazyns/internal/registry"
)

// Push adds dir as a root directory whose contents are bindings of ns. A
// nil ns means a fresh root namespace. Pushing the same directory twice
// keeps the first namespace.
func (l *Loader) Push(dir string, ns *namespace.Namespace) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ns == nil {
		ns = namespace.NewRoot()
	}
	if ns.Anonymous() {
		return &ConfigurationError{Reason: "roots must be mounted on a root or attached namespace"}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return &Error{Op: OpPush, Path: dir, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return &ConfigurationError{Path: abs, Reason: "does not exist"}
	}
	if !info.IsDir() {
		return &ConfigurationError{Path: abs, Reason: "is not a directory"}
	}

	if _, ok := l.root(abs); ok {
		return nil
	}

	return registry.Claim(l, abs, func() {
		l.configMu.Lock()
		l.roots = append(l.roots, RootEntry{Path: abs, Namespace: ns})
		l.configMu.Unlock()
		l.log("root directory %s mounted on %s", abs, ns)
	})
}

// Roots returns the root directories in the order they were pushed.
func (l *Loader) Roots() []RootEntry {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	out := make([]RootEntry, len(l.roots))
	copy(out, l.roots)
	return out
}

func (l *Loader) root(dir string) (RootEntry, bool) {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	for _, r := range l.roots {
		if r.Path == dir {
			return r, true
		}
	}
	return RootEntry{}, false
}

// actualRoots returns the roots that exist and are not ignored.
func (l *Loader) actualRoots() []RootEntry {
	var out []RootEntry
	for _, r := range l.Roots() {
		if l.ignored(r.Path) {
			continue
		}
		if info, err := os.Stat(r.Path); err != nil || !info.IsDir() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Manages reports whether dir is equal to, inside, or contains one of the
// root directories, net of ignored paths.
func (l *Loader) Manages(dir string) bool {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	if l.classifier.Ignored(dir) {
		return false
	}
	for _, r := range l.roots {
		if l.classifier.Ignored(r.Path) {
			continue
		}
		if registry.Overlaps(r.Path, dir) {
			return true
		}
	}
	return false
}

func (l *Loader) ignored(path string) bool {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	return l.classifier.Ignored(path)
}

func (l *Loader) collapsed(dir string) bool {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	return l.classifier.Collapsed(dir)
}

func (l *Loader) eagerExcluded(path string) bool {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	return l.classifier.EagerExcluded(path)
}
