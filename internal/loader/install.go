package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lazyns/internal/inflect"
	"lazyns/internal/namespace"
	"lazyns/internal/registry"
)

type entry struct {
	base    string
	abspath string
	dir     bool
}

// ls lists the entries of dir the loader cares about, sorted by name:
// hidden entries, ignored paths, nested roots, files the evaluator does not
// handle and directories without source files are left out.
func (l *Loader) ls(dir string) ([]entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []entry
	for _, d := range dirents {
		base := d.Name()
		if strings.HasPrefix(base, ".") {
			continue
		}
		abs := filepath.Join(dir, base)
		if l.ignored(abs) {
			continue
		}

		isDir := d.IsDir()
		if d.Type()&os.ModeSymlink != 0 {
			info, err := os.Stat(abs)
			if err != nil {
				continue
			}
			isDir = info.IsDir()
		}

		if isDir {
			if _, ok := l.root(abs); ok {
				continue
			}
			if !l.hasSource(abs) {
				continue
			}
		} else if !l.evaluator.Handles(abs) {
			continue
		}
		out = append(out, entry{base: base, abspath: abs, dir: isDir})
	}
	return out, nil
}

// hasSource reports whether some file below dir would be installed.
func (l *Loader) hasSource(dir string) bool {
	queue := []string{dir}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		dirents, err := os.ReadDir(current)
		if err != nil {
			continue
		}
		for _, d := range dirents {
			base := d.Name()
			if strings.HasPrefix(base, ".") {
				continue
			}
			abs := filepath.Join(current, base)
			if l.ignored(abs) {
				continue
			}
			info, err := os.Stat(abs)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if _, ok := l.root(abs); !ok {
					queue = append(queue, abs)
				}
				continue
			}
			if l.evaluator.Handles(abs) {
				return true
			}
		}
	}
	return false
}

func (l *Loader) nameFor(base, abspath string, isDir bool) (string, error) {
	if !isDir {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	name := l.inflector.Camelize(base, abspath)
	if !inflect.Valid(name) {
		return "", &NamingError{Path: abspath, Name: name, IsDir: isDir}
	}
	return name, nil
}

// defineTriggersForDir installs the triggers for the contents of dir into
// parent. The caller holds stateMu.
func (l *Loader) defineTriggersForDir(dir string, parent *namespace.Namespace) error {
	entries, err := l.ls(dir)
	if err != nil {
		return &Error{Op: OpSetup, Path: dir, Err: err}
	}

	for _, e := range entries {
		if !e.dir {
			name, err := l.nameFor(e.base, e.abspath, false)
			if err != nil {
				return err
			}
			l.installFile(namespace.Ref{Parent: parent, Name: name}, e.abspath)
			continue
		}

		if l.collapsed(e.abspath) {
			if err := l.defineTriggersForDir(e.abspath, parent); err != nil {
				return err
			}
			continue
		}

		name, err := l.nameFor(e.base, e.abspath, true)
		if err != nil {
			return err
		}
		if err := l.installDir(namespace.Ref{Parent: parent, Name: name}, e.abspath); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) installFile(ref namespace.Ref, file string) {
	if t, ok := ref.Parent.Trigger(ref.Name); ok {
		own, mine := t.(*trigger)
		switch {
		case mine && own.loader == l && own.source == file:
			// Already installed by an earlier, interrupted setup.
		case mine && own.loader == l && own.dir:
			l.promote(ref, own, file)
		default:
			l.shadow(file, fmt.Sprintf("%s has precedence", t.Source()))
		}
		return
	}

	if inc, ok := registry.InceptionFor(ref); ok {
		l.shadow(file, fmt.Sprintf("%s is being defined by %s", ref.Path(), inc.Source))
		return
	}

	if ref.Parent.Defined(ref.Name) {
		l.shadow(file, fmt.Sprintf("%s is already defined", ref.Path()))
		return
	}

	l.setTrigger(ref, file, false)
}

func (l *Loader) shadow(file, reason string) {
	l.shadowed[file] = true
	l.log("file %s is ignored because %s", file, reason)
}

// promote replaces the directory trigger of ref with a trigger for file,
// which defines the namespace explicitly. The directories queued for ref
// are installed once file defines it.
func (l *Loader) promote(ref namespace.Ref, dirTrigger *trigger, file string) {
	ref.Parent.RemoveTrigger(ref.Name, dirTrigger)
	delete(l.autoloads, dirTrigger.source)
	registry.UnregisterAutoload(dirTrigger.source)
	l.log("earlier trigger for %s discarded, it is actually an explicit namespace defined in %s", ref.Path(), file)

	l.setTrigger(ref, file, false)
	registry.RegisterExplicitNamespace(ref, l)
}

func (l *Loader) installDir(ref namespace.Ref, dir string) error {
	path := ref.Path()

	if t, ok := ref.Parent.Trigger(ref.Name); ok && !ref.Parent.Defined(ref.Name) {
		if own, mine := t.(*trigger); mine && own.loader == l {
			if !own.dir {
				registry.RegisterExplicitNamespace(ref, l)
			}
			l.queueSubdir(path, dir)
			return nil
		}
		l.log("directory %s is ignored because %s is pending in another loader", dir, path)
		return nil
	}

	if inc, ok := registry.InceptionFor(ref); ok && inc.Owner == registry.Owner(l) {
		registry.RegisterExplicitNamespace(ref, l)
		l.queueSubdir(path, dir)
		return nil
	}

	v, defined := ref.Parent.Get(ref.Name)
	if !defined {
		l.queueSubdir(path, dir)
		l.setTrigger(ref, dir, true)
		return nil
	}

	ns, ok := v.(*namespace.Namespace)
	if !ok {
		l.log("directory %s is ignored because %s is already defined and is not a namespace", dir, path)
		return nil
	}
	l.log("the namespace %s already exists, descending into %s", path, dir)
	return l.defineTriggersForDir(dir, ns)
}

func (l *Loader) queueSubdir(path, dir string) {
	for _, queued := range l.lazySubdirs[path] {
		if queued == dir {
			return
		}
	}
	l.lazySubdirs[path] = append(l.lazySubdirs[path], dir)
}

func (l *Loader) setTrigger(ref namespace.Ref, abspath string, isDir bool) {
	t := &trigger{loader: l, ref: ref, source: abspath, dir: isDir}
	if !ref.Parent.SetTrigger(ref.Name, t) {
		l.log("trigger for %s not set, the name was taken concurrently", ref.Path())
		return
	}
	if isDir {
		l.log("trigger set for %s, to be materialized from %s", ref.Path(), abspath)
	} else {
		l.log("trigger set for %s, to be loaded from %s", ref.Path(), abspath)
	}

	l.autoloads[abspath] = ref
	registry.RegisterAutoload(l, abspath)
	if !isDir && registry.Evaluating(abspath) {
		registry.RegisterInception(ref, abspath, l)
	}
}

// OnNamespaceLoaded installs the directories queued for an explicit
// namespace once its source file defines it.
func (l *Loader) OnNamespaceLoaded(ref namespace.Ref, ns *namespace.Namespace) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	path := ref.Path()
	dirs := l.lazySubdirs[path]
	delete(l.lazySubdirs, path)
	for i, dir := range dirs {
		if err := l.defineTriggersForDir(dir, ns); err != nil {
			l.lazySubdirs[path] = dirs[i:]
			return err
		}
	}
	return nil
}
