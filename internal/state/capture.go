package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lazyns/internal/loader"
	"lazyns/internal/namespace"
)

// Capture snapshots the bindings l manages. Nothing is resolved: an entry
// is loaded only if its binding is already defined.
func Capture(l *loader.Loader) (*Manifest, error) {
	expected, err := l.AllExpectedPaths()
	if err != nil {
		return nil, err
	}

	m := NewManifest()
	m.LoaderID = l.ID()
	m.Tag = l.Tag()
	m.GeneratedAt = time.Now().UTC()

	roots := l.Roots()
	for _, root := range roots {
		m.Roots[root.Path] = root.Namespace.Path()
	}

	for src, binding := range expected {
		entry := Entry{Binding: binding, Kind: KindFile}
		if _, isRoot := m.Roots[src]; isRoot {
			entry.Kind = KindRoot
		} else {
			info, err := os.Stat(src)
			if err != nil {
				return nil, fmt.Errorf("capturing %s: %w", src, err)
			}
			if info.IsDir() {
				entry.Kind = KindDirectory
			}
		}
		entry.Loaded = entry.Kind == KindRoot || defined(topFor(roots, src), binding)
		entry.Unloadable = l.IsUnloadable(binding)
		m.Entries[src] = entry
	}
	return m, nil
}

// topFor returns the topmost namespace above the innermost root holding src.
func topFor(roots []loader.RootEntry, src string) *namespace.Namespace {
	var best loader.RootEntry
	for _, root := range roots {
		if src != root.Path && !strings.HasPrefix(src, root.Path+string(filepath.Separator)) {
			continue
		}
		if len(root.Path) > len(best.Path) {
			best = root
		}
	}
	if best.Namespace == nil {
		return nil
	}
	return topmost(best.Namespace)
}

func topmost(ns *namespace.Namespace) *namespace.Namespace {
	for ns.Parent() != nil {
		ns = ns.Parent()
	}
	return ns
}

func defined(top *namespace.Namespace, path string) bool {
	if top == nil {
		return false
	}
	ns := top
	names := namespace.Split(path)
	for i, name := range names {
		v, ok := ns.Get(name)
		if !ok {
			return false
		}
		if i == len(names)-1 {
			return true
		}
		child, isNS := v.(*namespace.Namespace)
		if !isNS {
			return false
		}
		ns = child
	}
	return true
}
