package loader

import (
	"errors"
	"sort"

	"lazyns/internal/namespace"
	"lazyns/internal/registry"
)

// Unload removes every binding the loader installed since Setup. Pending
// triggers are dropped, resolved bindings are removed after their OnUnload
// callbacks run. It waits for in-flight resolutions to finish.
func (l *Loader) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unloadLocked()
}

func (l *Loader) unloadLocked() error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	l.stateMu.Lock()
	autoloads := l.autoloads
	toUnload := l.toUnload
	order := l.unloadOrder
	l.autoloads = make(map[string]namespace.Ref)
	l.autoloadedDirs = nil
	l.lazySubdirs = make(map[string][]string)
	l.toUnload = make(map[string]unloadEntry)
	l.unloadOrder = nil
	l.shadowed = make(map[string]bool)
	l.stateMu.Unlock()

	sources := make([]string, 0, len(autoloads))
	for src := range autoloads {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		ref := autoloads[src]
		if t, ok := ref.Parent.Trigger(ref.Name); ok {
			if own, mine := t.(*trigger); mine && own.loader == l {
				ref.Parent.RemoveTrigger(ref.Name, t)
				l.log("trigger for %s removed", ref.Path())
			}
			continue
		}
		if _, recorded := toUnload[ref.Path()]; recorded {
			continue
		}
		if _, ok := ref.Parent.Remove(ref.Name); ok {
			l.log("binding %s removed", ref.Path())
		}
	}

	var errs []error
	for _, path := range order {
		e := toUnload[path]
		if value, ok := e.ref.Parent.Get(e.ref.Name); ok {
			if err := l.runOnUnload(path, value, e.source); err != nil {
				errs = append(errs, err)
			}
		}
		e.ref.Parent.Remove(e.ref.Name)
		l.log("binding %s unloaded", path)
	}

	registry.Release(l)
	l.setup = false
	l.eagerLoaded = false
	l.log("unload complete")
	return errors.Join(errs...)
}
