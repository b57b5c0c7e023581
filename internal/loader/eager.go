package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"lazyns/internal/namespace"
	"lazyns/internal/registry"
)

type eagerItem struct {
	ns  *namespace.Namespace
	dir string
}

// EagerLoad resolves every binding of every root that is not excluded from
// eager loading. Once it succeeds further calls do nothing.
func (l *Loader) EagerLoad() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eagerLoadLocked(context.Background())
}

func (l *Loader) eagerLoadLocked(ctx context.Context) error {
	if l.eagerLoaded {
		return nil
	}
	if !l.setup {
		return ErrSetupRequired
	}
	l.log("eager load start")

	var queue []eagerItem
	for _, r := range l.actualRoots() {
		if !l.eagerExcluded(r.Path) {
			queue = append(queue, eagerItem{ns: r.Namespace, dir: r.Path})
		}
	}
	if err := l.eagerWalk(ctx, queue); err != nil {
		return err
	}

	// Consumed directory triggers cannot be removed individually anymore.
	l.stateMu.Lock()
	for _, dir := range l.autoloadedDirs {
		registry.UnregisterAutoload(dir)
	}
	l.autoloadedDirs = nil
	l.stateMu.Unlock()

	l.eagerLoaded = true
	l.log("eager load end")
	return nil
}

// IsEagerLoaded reports whether EagerLoad completed since the last setup.
func (l *Loader) IsEagerLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eagerLoaded
}

func (l *Loader) eagerWalk(ctx context.Context, queue []eagerItem) error {
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		entries, err := l.ls(item.dir)
		if err != nil {
			return &Error{Op: OpEagerLoad, Path: item.dir, Err: err}
		}

		for _, e := range entries {
			if l.eagerExcluded(e.abspath) {
				continue
			}

			if !e.dir {
				l.stateMu.Lock()
				ref, installed := l.autoloads[e.abspath]
				shadowed := l.shadowed[e.abspath]
				l.stateMu.Unlock()
				if installed && !shadowed {
					if _, err := ref.Parent.Lookup(ctx, ref.Name); err != nil {
						return err
					}
				}
				continue
			}

			if l.collapsed(e.abspath) {
				queue = append(queue, eagerItem{ns: item.ns, dir: e.abspath})
				continue
			}

			name, err := l.nameFor(e.base, e.abspath, true)
			if err != nil {
				return err
			}
			v, err := item.ns.Lookup(ctx, name)
			if err != nil {
				return err
			}
			if child, ok := v.(*namespace.Namespace); ok {
				queue = append(queue, eagerItem{ns: child, dir: e.abspath})
			}
		}
	}
	return nil
}

// EagerLoadDir eager loads the bindings defined below dir, which must be
// inside a root directory. Ignored or excluded directories are skipped
// silently.
func (l *Loader) EagerLoadDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return &Error{Op: OpEagerLoad, Path: dir, Err: err}
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return &Error{Op: OpEagerLoad, Path: abs, Err: errors.New("not a directory")}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	root, names, err := l.locate(abs)
	switch {
	case errors.Is(err, ErrIgnored):
		return nil
	case err != nil:
		return &Error{Op: OpEagerLoad, Path: abs, Err: err}
	}
	for d := abs; ; d = filepath.Dir(d) {
		if l.eagerExcluded(d) {
			return nil
		}
		if d == root.Path {
			break
		}
	}

	if l.eagerLoaded {
		return nil
	}
	if !l.setup {
		return ErrSetupRequired
	}

	ctx := context.Background()
	ns := root.Namespace
	for _, name := range names {
		v, err := ns.Lookup(ctx, name)
		if errors.Is(err, namespace.ErrUndefined) {
			// Managed, but nothing defines the namespace yet.
			return nil
		}
		if err != nil {
			return err
		}
		child, ok := v.(*namespace.Namespace)
		if !ok {
			return nil
		}
		ns = child
	}
	return l.eagerWalk(ctx, []eagerItem{{ns: ns, dir: abs}})
}

// EagerLoadNamespace eager loads the directories that contribute bindings
// to ns, including those of nested namespaces.
func (l *Loader) EagerLoadNamespace(ns *namespace.Namespace) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.eagerLoaded {
		return nil
	}
	if !l.setup {
		return ErrSetupRequired
	}

	ctx := context.Background()
	top := topmost(ns)
	for _, root := range l.actualRoots() {
		if l.eagerExcluded(root.Path) || topmost(root.Namespace) != top {
			continue
		}
		rootPath := root.Namespace.Path()
		target := ns.Path()
		switch {
		case within(target, rootPath):
			if err := l.eagerWalk(ctx, []eagerItem{{ns: root.Namespace, dir: root.Path}}); err != nil {
				return err
			}
		case within(rootPath, target):
			suffix := namespace.Split(target)[len(namespace.Split(rootPath)):]
			if err := l.eagerLoadChild(ctx, ns, suffix, root.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// eagerLoadChild finds the directories of root that map to the names of
// suffix and eager loads them into ns.
func (l *Loader) eagerLoadChild(ctx context.Context, ns *namespace.Namespace, suffix []string, root string) error {
	dirs := []string{root}
	for _, segment := range suffix {
		var next []string
		for len(dirs) > 0 {
			dir := dirs[0]
			dirs = dirs[1:]
			entries, err := l.ls(dir)
			if err != nil {
				return &Error{Op: OpEagerLoad, Path: dir, Err: err}
			}
			for _, e := range entries {
				if !e.dir {
					continue
				}
				if l.collapsed(e.abspath) {
					dirs = append(dirs, e.abspath)
					continue
				}
				if name, err := l.nameFor(e.base, e.abspath, true); err == nil && name == segment {
					next = append(next, e.abspath)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		dirs = next
	}

	queue := make([]eagerItem, 0, len(dirs))
	for _, dir := range dirs {
		if !l.eagerExcluded(dir) {
			queue = append(queue, eagerItem{ns: ns, dir: dir})
		}
	}
	return l.eagerWalk(ctx, queue)
}

// locate maps a path inside a root directory to that root and the names
// of the namespaces in between, outermost first. Collapsed directories
// contribute no name.
func (l *Loader) locate(dir string) (RootEntry, []string, error) {
	var segments []entry
	for d := dir; ; d = filepath.Dir(d) {
		if l.ignored(d) {
			return RootEntry{}, nil, ErrIgnored
		}
		if root, ok := l.root(d); ok {
			names := make([]string, 0, len(segments))
			for i := len(segments) - 1; i >= 0; i-- {
				name, err := l.nameFor(segments[i].base, segments[i].abspath, true)
				if err != nil {
					return RootEntry{}, nil, err
				}
				names = append(names, name)
			}
			return root, names, nil
		}
		base := filepath.Base(d)
		if filepath.Dir(d) == d || strings.HasPrefix(base, ".") {
			return RootEntry{}, nil, ErrNotManaged
		}
		if !l.collapsed(d) {
			segments = append(segments, entry{base: base, abspath: d, dir: true})
		}
	}
}

func topmost(ns *namespace.Namespace) *namespace.Namespace {
	for ns.Parent() != nil {
		ns = ns.Parent()
	}
	return ns
}

// within reports whether path is base or nested below it.
func within(base, path string) bool {
	return base == "" || path == base || strings.HasPrefix(path, base+namespace.Separator)
}
