// Package namespace implements the containers that hold lazyns bindings.
//
// A Namespace maps local names to values. A name may instead carry a
// Trigger: a pending binding that is resolved the first time the name is
// looked up. Lookup is the only accessor that fires triggers; Get and
// Names observe the container without side effects.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUndefined indicates a name that is neither defined nor pending.
	ErrUndefined = errors.New("undefined binding")

	// ErrNotNamespace indicates a path step whose value is not a Namespace.
	ErrNotNamespace = errors.New("not a namespace")

	// ErrInvalidName indicates an empty name or one containing a separator.
	ErrInvalidName = errors.New("invalid binding name")
)

// Separator joins the names of a binding path.
const Separator = "."

// Trigger is a pending binding installed on a Namespace.
type Trigger interface {
	// Source is the absolute path of the file or directory backing the binding.
	Source() string
	// IsDir reports whether the binding materializes a namespace from a directory.
	IsDir() bool
	// Resolve produces the value of the binding, defining it on its
	// container as a side effect.
	Resolve(ctx context.Context) (any, error)
}

// Namespace is a mutable container of named bindings.
type Namespace struct {
	name     string
	path     string
	parent   *Namespace
	root     bool
	implicit bool

	mu       sync.RWMutex
	values   map[string]any
	triggers map[string]Trigger
	inflight map[string]Trigger
}

// NewRoot creates a top-level namespace. Its path is empty.
func NewRoot() *Namespace {
	ns := newNamespace()
	ns.root = true
	return ns
}

// New creates a detached namespace. It takes its name and path the first
// time it is defined on a parent.
func New() *Namespace {
	return newNamespace()
}

func newNamespace() *Namespace {
	return &Namespace{
		values:   make(map[string]any),
		triggers: make(map[string]Trigger),
		inflight: make(map[string]Trigger),
	}
}

// NewImplicitChild creates a namespace named name under ns without defining
// it. Implicit namespaces exist only to hold nested bindings.
func (ns *Namespace) NewImplicitChild(name string) *Namespace {
	child := newNamespace()
	child.implicit = true
	child.attach(ns, name)
	return child
}

func (ns *Namespace) attach(parent *Namespace, name string) {
	ns.parent = parent
	ns.name = name
	ns.path = Join(parent.path, name)
}

// Name returns the local name, empty for roots and detached namespaces.
func (ns *Namespace) Name() string { return ns.name }

// Path returns the dotted path from the root.
func (ns *Namespace) Path() string { return ns.path }

// Parent returns the enclosing namespace, nil for roots.
func (ns *Namespace) Parent() *Namespace { return ns.parent }

// IsRoot reports whether ns was created with NewRoot.
func (ns *Namespace) IsRoot() bool { return ns.root }

// Implicit reports whether ns was materialized to hold nested bindings
// rather than defined by a source file or by user code.
func (ns *Namespace) Implicit() bool { return ns.implicit }

// Anonymous reports whether ns is neither a root nor attached to a parent.
func (ns *Namespace) Anonymous() bool { return !ns.root && ns.parent == nil }

// String returns the path, or a placeholder for roots and anonymous namespaces.
func (ns *Namespace) String() string {
	switch {
	case ns.root:
		return "<root>"
	case ns.parent == nil:
		return "<anonymous>"
	default:
		return ns.path
	}
}

// Join appends name to the binding path base.
func Join(base, name string) string {
	if base == "" {
		return name
	}
	return base + Separator + name
}

// Split breaks a binding path into its names.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Separator)
}

// ValidName reports whether name can be defined on a namespace.
func ValidName(name string) bool {
	return name != "" && !strings.Contains(name, Separator)
}

// Get returns the value defined for name, ignoring pending triggers.
func (ns *Namespace) Get(name string) (any, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	v, ok := ns.values[name]
	return v, ok
}

// Defined reports whether name holds a value.
func (ns *Namespace) Defined(name string) bool {
	_, ok := ns.Get(name)
	return ok
}

// Trigger returns the pending trigger for name, if any.
func (ns *Namespace) Trigger(name string) (Trigger, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	t, ok := ns.triggers[name]
	return t, ok
}

// SetTrigger installs t for name. It fails when name already holds a
// value or another trigger.
func (ns *Namespace) SetTrigger(name string, t Trigger) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.values[name]; ok {
		return false
	}
	if _, ok := ns.triggers[name]; ok {
		return false
	}
	ns.triggers[name] = t
	return true
}

// RemoveTrigger removes the trigger for name if it is still t.
func (ns *Namespace) RemoveTrigger(name string, t Trigger) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if cur, ok := ns.triggers[name]; ok && cur == t {
		delete(ns.triggers, name)
		return true
	}
	return false
}

// BeginResolution marks t as resolving name. It fails when t is no longer
// the trigger installed for name. Until EndResolution, Define keeps t
// installed and lookups from outside the resolution wait on t.
func (ns *Namespace) BeginResolution(name string, t Trigger) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if cur, ok := ns.triggers[name]; !ok || cur != t {
		return false
	}
	ns.inflight[name] = t
	return true
}

// EndResolution clears the in-flight mark set by BeginResolution. The
// trigger is removed when name ended up defined and kept for a retry
// otherwise.
func (ns *Namespace) EndResolution(name string, t Trigger) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if cur, ok := ns.inflight[name]; !ok || cur != t {
		return
	}
	delete(ns.inflight, name)
	if _, defined := ns.values[name]; defined {
		delete(ns.triggers, name)
	}
}

// Define binds name to value, replacing any pending trigger that is not
// being resolved. A detached namespace value is attached under ns.
// Observers registered with Observe run after the binding is set; their
// errors are returned.
func (ns *Namespace) Define(name string, value any) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if child, ok := value.(*Namespace); ok && child.Anonymous() {
		child.attach(ns, name)
	}

	ns.mu.Lock()
	ns.values[name] = value
	if _, busy := ns.inflight[name]; !busy {
		delete(ns.triggers, name)
	}
	ns.mu.Unlock()

	return notify(ns, name, value)
}

// Remove deletes the value bound to name and returns it.
func (ns *Namespace) Remove(name string) (any, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	v, ok := ns.values[name]
	if ok {
		delete(ns.values, name)
	}
	return v, ok
}

// Lookup returns the value of name, resolving its trigger if the binding
// is still pending. A binding whose resolution is in flight is returned
// only once that resolution completes. Lookups made while resolving a
// binding must pass the context handed to the resolution: they see the
// binding as defined so far, and cycles are reported instead of blocking
// forever.
func (ns *Namespace) Lookup(ctx context.Context, name string) (any, error) {
	ns.mu.RLock()
	v, ok := ns.values[name]
	t, pending := ns.triggers[name]
	ns.mu.RUnlock()

	if !pending {
		if ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUndefined, Join(ns.path, name))
	}

	ref := Ref{Parent: ns, Name: name}
	if chain := Resolving(ctx); contains(chain, ref) {
		if ok {
			return v, nil
		}
		return nil, newCircularError(chain, ref)
	}
	return t.Resolve(ctx)
}

// Resolve looks up a dotted path starting at ns, resolving every pending
// binding along the way.
func (ns *Namespace) Resolve(ctx context.Context, path string) (any, error) {
	var current any = ns
	for _, name := range Split(path) {
		parent, ok := current.(*Namespace)
		if !ok {
			return nil, fmt.Errorf("%w: cannot look up %q in %v", ErrNotNamespace, name, current)
		}
		v, err := parent.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		current = v
	}
	return current, nil
}

// Names returns the defined and pending names of ns, sorted.
func (ns *Namespace) Names() []string {
	ns.mu.RLock()
	names := make([]string, 0, len(ns.values)+len(ns.triggers))
	for name := range ns.values {
		names = append(names, name)
	}
	for name := range ns.triggers {
		if _, ok := ns.values[name]; !ok {
			names = append(names, name)
		}
	}
	ns.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Entry is a snapshot of one name in a namespace.
type Entry struct {
	Name    string
	Value   any
	Defined bool
	Trigger Trigger
}

// Entries returns a sorted snapshot of ns without resolving anything.
func (ns *Namespace) Entries() []Entry {
	ns.mu.RLock()
	entries := make([]Entry, 0, len(ns.values)+len(ns.triggers))
	for name, v := range ns.values {
		entries = append(entries, Entry{Name: name, Value: v, Defined: true})
	}
	for name, t := range ns.triggers {
		if _, ok := ns.values[name]; !ok {
			entries = append(entries, Entry{Name: name, Trigger: t})
		}
	}
	ns.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
