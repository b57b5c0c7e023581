package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"lazyns/internal/namespace"
)

// ExpectedPath returns the binding path the file or directory at path is
// expected to define. ok is false for paths the loader does not map to a
// binding: unmanaged, ignored, hidden or not source files.
func (l *Loader) ExpectedPath(path string) (binding string, ok bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, &Error{Op: OpExpected, Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", false, &Error{Op: OpExpected, Path: abs, Err: err}
	}
	if !info.IsDir() && !l.evaluator.Handles(abs) {
		return "", false, nil
	}
	if l.ignored(abs) {
		return "", false, nil
	}

	dir := abs
	var leaf string
	if !info.IsDir() {
		base := filepath.Base(abs)
		if strings.HasPrefix(base, ".") {
			return "", false, nil
		}
		if leaf, err = l.nameFor(base, abs, false); err != nil {
			return "", false, err
		}
		dir = filepath.Dir(abs)
	}

	root, names, err := l.locate(dir)
	switch {
	case errors.Is(err, ErrIgnored), errors.Is(err, ErrNotManaged):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	if leaf != "" {
		names = append(names, leaf)
	}

	binding = root.Namespace.Path()
	for _, name := range names {
		binding = namespace.Join(binding, name)
	}
	return binding, true, nil
}

// AllExpectedPaths maps every managed directory and source file to the
// binding path it is expected to define.
func (l *Loader) AllExpectedPaths() (map[string]string, error) {
	result := make(map[string]string)
	for _, root := range l.actualRoots() {
		type item struct{ dir, path string }
		queue := []item{{dir: root.Path, path: root.Namespace.Path()}}
		for len(queue) > 0 {
			it := queue[0]
			queue = queue[1:]
			result[it.dir] = it.path

			entries, err := l.ls(it.dir)
			if err != nil {
				return nil, &Error{Op: OpExpected, Path: it.dir, Err: err}
			}
			for _, e := range entries {
				if e.dir && l.collapsed(e.abspath) {
					queue = append(queue, item{dir: e.abspath, path: it.path})
					continue
				}
				name, err := l.nameFor(e.base, e.abspath, e.dir)
				if err != nil {
					return nil, err
				}
				if e.dir {
					queue = append(queue, item{dir: e.abspath, path: namespace.Join(it.path, name)})
				} else {
					result[e.abspath] = namespace.Join(it.path, name)
				}
			}
		}
	}
	return result, nil
}

// LoadFile resolves the binding defined by the source file at path.
func (l *Loader) LoadFile(path string) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Op: OpLoadFile, Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &Error{Op: OpLoadFile, Path: abs, Err: err}
	}
	if info.IsDir() || !l.evaluator.Handles(abs) {
		return nil, &Error{Op: OpLoadFile, Path: abs, Err: ErrNotSource}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.setup {
		return nil, ErrSetupRequired
	}

	if l.ignored(abs) {
		return nil, &Error{Op: OpLoadFile, Path: abs, Err: ErrIgnored}
	}
	root, names, err := l.locate(filepath.Dir(abs))
	if err != nil {
		return nil, &Error{Op: OpLoadFile, Path: abs, Err: err}
	}

	l.stateMu.Lock()
	shadowed := l.shadowed[abs]
	l.stateMu.Unlock()
	if shadowed {
		return nil, &Error{Op: OpLoadFile, Path: abs, Err: ErrShadowed}
	}

	name, err := l.nameFor(filepath.Base(abs), abs, false)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	ns := root.Namespace
	for _, segment := range names {
		v, err := ns.Lookup(ctx, segment)
		if err != nil {
			return nil, err
		}
		child, ok := v.(*namespace.Namespace)
		if !ok {
			return nil, &Error{Op: OpLoadFile, Path: abs, Err: namespace.ErrNotNamespace}
		}
		ns = child
	}
	return ns.Lookup(ctx, name)
}
