package loader

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"lazyns/internal/namespace"
	"lazyns/internal/registry"
)

// trigger is a pending binding installed by a loader. Concurrent
// resolutions of the same trigger share one flight.
type trigger struct {
	loader *Loader
	ref    namespace.Ref
	source string
	dir    bool
	flight singleflight.Group
}

func (t *trigger) Source() string { return t.source }
func (t *trigger) IsDir() bool    { return t.dir }

// lifecycleKey marks a context whose call chain holds the lifecycle lock
// of a loader.
type lifecycleKey struct{ l *Loader }

// Resolve evaluates the source file or materializes the namespace. Only
// the outermost resolution of a call chain takes the lifecycle lock of
// the loader; nested ones already run under it.
func (t *trigger) Resolve(ctx context.Context) (any, error) {
	key := lifecycleKey{t.loader}
	if ctx.Value(key) == nil {
		t.loader.lifecycle.RLock()
		defer t.loader.lifecycle.RUnlock()
		ctx = context.WithValue(ctx, key, true)
	}
	v, err, _ := t.flight.Do("", func() (any, error) {
		return t.resolve(ctx)
	})
	return v, err
}

func (t *trigger) resolve(ctx context.Context) (any, error) {
	parent, name := t.ref.Parent, t.ref.Name
	if !parent.BeginResolution(name, t) {
		if v, ok := parent.Get(name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: %s", namespace.ErrUndefined, t.ref.Path())
	}
	// Other referencers keep waiting on t until the checks and OnLoad
	// callbacks below are done.
	defer parent.EndResolution(name, t)

	if t.dir {
		return t.loader.materialize(t)
	}
	return t.loader.evaluate(namespace.WithResolving(ctx, t.ref), t)
}

func (l *Loader) evaluate(ctx context.Context, t *trigger) (any, error) {
	ref := t.ref
	path := ref.Path()

	registry.BeginEvaluation(t.source)
	err := l.evaluator.Evaluate(ctx, t.source, ref.Parent, ref.Name)
	registry.EndEvaluation(t.source)
	registry.UnregisterInception(ref)
	if err != nil {
		return nil, err
	}

	value, ok := ref.Parent.Get(ref.Name)
	if !ok {
		ref.Parent.RemoveTrigger(ref.Name, t)
		return nil, &NameMismatchError{Path: t.source, Expected: path}
	}

	l.stateMu.Lock()
	registry.UnregisterAutoload(t.source)
	if l.reloading.Load() {
		l.recordUnload(path, unloadEntry{source: t.source, ref: ref})
	}
	l.stateMu.Unlock()

	l.log("binding %s loaded from file %s", path, t.source)
	if err := l.runOnLoad(path, value, t.source); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Loader) materialize(t *trigger) (any, error) {
	ref := t.ref
	path := ref.Path()
	ns := ref.Parent.NewImplicitChild(ref.Name)

	l.stateMu.Lock()
	dirs := l.lazySubdirs[path]
	delete(l.lazySubdirs, path)
	for _, dir := range dirs {
		if err := l.defineTriggersForDir(dir, ns); err != nil {
			l.discard(ns, dirs)
			l.lazySubdirs[path] = dirs
			l.stateMu.Unlock()
			return nil, err
		}
	}
	l.autoloadedDirs = append(l.autoloadedDirs, t.source)
	if l.reloading.Load() {
		l.recordUnload(path, unloadEntry{source: t.source, ref: ref})
	}
	l.stateMu.Unlock()

	if err := ref.Parent.Define(ref.Name, ns); err != nil {
		return nil, err
	}
	l.log("namespace %s materialized from directory %s", path, t.source)

	if err := l.runOnLoad(path, ns, t.source); err != nil {
		return nil, err
	}
	return ns, nil
}

// discard forgets the triggers a failed materialization installed into ns
// from dirs, so nothing points into the abandoned namespace. The caller
// holds stateMu.
func (l *Loader) discard(ns *namespace.Namespace, dirs []string) {
	for src, ref := range l.autoloads {
		if ref.Parent != ns {
			continue
		}
		delete(l.autoloads, src)
		registry.UnregisterAutoload(src)
	}
	prefix := ns.Path() + namespace.Separator
	for path := range l.lazySubdirs {
		if strings.HasPrefix(path, prefix) {
			delete(l.lazySubdirs, path)
		}
	}
	for file := range l.shadowed {
		for _, dir := range dirs {
			if registry.Contains(dir, file) {
				delete(l.shadowed, file)
				break
			}
		}
	}
	registry.ForgetNamespace(ns)
}

// recordUnload notes a binding Unload must remove. The caller holds stateMu.
func (l *Loader) recordUnload(path string, e unloadEntry) {
	if _, ok := l.toUnload[path]; !ok {
		l.unloadOrder = append(l.unloadOrder, path)
	}
	l.toUnload[path] = e
}
