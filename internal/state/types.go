// Package state persists loader manifests: which source file maps to which
// binding and whether that binding has been resolved.
package state

import (
	"sort"
	"time"
)

// CurrentVersion is the manifest format version written by this package.
const CurrentVersion = 1

// Kinds of manifest entries.
const (
	KindRoot      = "root"
	KindDirectory = "directory"
	KindFile      = "file"
)

// Manifest is a snapshot of the bindings a loader manages.
type Manifest struct {
	// Version for future compatibility
	Version int `json:"version"`

	// Loader identity
	LoaderID string `json:"loader_id"`
	Tag      string `json:"tag"`

	// When the snapshot was taken
	GeneratedAt time.Time `json:"generated_at"`

	// Root directory -> binding path of its namespace
	Roots map[string]string `json:"roots"`

	// Absolute source path -> entry
	Entries map[string]Entry `json:"entries"`
}

// Entry describes one managed file or directory.
type Entry struct {
	Binding    string `json:"binding"`
	Kind       string `json:"kind"`
	Loaded     bool   `json:"loaded"`
	Unloadable bool   `json:"unloadable,omitempty"`
}

// NewManifest returns an empty manifest at the current version.
func NewManifest() *Manifest {
	return &Manifest{
		Version: CurrentVersion,
		Roots:   make(map[string]string),
		Entries: make(map[string]Entry),
	}
}

// Sources returns the source paths of m, sorted.
func (m *Manifest) Sources() []string {
	sources := make([]string, 0, len(m.Entries))
	for src := range m.Entries {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// Bindings returns the distinct binding paths of m, sorted.
func (m *Manifest) Bindings() []string {
	seen := make(map[string]bool, len(m.Entries))
	var out []string
	for _, e := range m.Entries {
		if e.Binding == "" || seen[e.Binding] {
			continue
		}
		seen[e.Binding] = true
		out = append(out, e.Binding)
	}
	sort.Strings(out)
	return out
}

// Diff reports the binding paths present only in next (added) and only in
// prev (removed). A nil manifest counts as empty.
func Diff(prev, next *Manifest) (added, removed []string) {
	before := make(map[string]bool)
	after := make(map[string]bool)
	if prev != nil {
		for _, b := range prev.Bindings() {
			before[b] = true
		}
	}
	if next != nil {
		for _, b := range next.Bindings() {
			after[b] = true
		}
	}
	for b := range after {
		if !before[b] {
			added = append(added, b)
		}
	}
	for b := range before {
		if !after[b] {
			removed = append(removed, b)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
