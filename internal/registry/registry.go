// Package registry holds the process-wide state shared by every loader:
// the loaders themselves (for directory conflict checks), which loader
// owns each installed source path, which bindings are explicit namespaces,
// and which bindings are being defined while their trigger is installed
// (inceptions).
//
// All state is guarded by a single lock. Callbacks into loaders are made
// after that lock is released.
package registry

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"lazyns/internal/namespace"
)

// Owner is the view of a loader the registry needs.
type Owner interface {
	// ID identifies the loader in diagnostics.
	ID() string
	// Manages reports whether dir is inside, equal to, or contains one of
	// the owner's root directories, net of its ignored paths.
	Manages(dir string) bool
	// OnNamespaceLoaded is called when a namespace registered as explicit
	// by this owner is defined at ref.
	OnNamespaceLoaded(ref namespace.Ref, ns *namespace.Namespace) error
}

// Inception records a binding whose trigger was installed while its source
// file was already being evaluated.
type Inception struct {
	Source string
	Owner  Owner
}

var (
	mu         sync.Mutex
	owners     []Owner
	autoloads  = make(map[string]Owner)
	explicit   = make(map[namespace.Ref]Owner)
	inceptions = make(map[namespace.Ref]Inception)
	evaluating = make(map[string]int)
	stopHook   func()
)

// Register adds o to the set of live loaders. Registering twice is a no-op.
func Register(o Owner) {
	mu.Lock()
	defer mu.Unlock()
	for _, existing := range owners {
		if existing == o {
			return
		}
	}
	owners = append(owners, o)
}

// Unregister forgets o and everything registered on its behalf.
func Unregister(o Owner) {
	mu.Lock()
	for i, existing := range owners {
		if existing == o {
			owners = append(owners[:i:i], owners[i+1:]...)
			break
		}
	}
	mu.Unlock()
	Release(o)
}

// Owners returns a snapshot of the registered loaders in registration order.
func Owners() []Owner {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Owner, len(owners))
	copy(out, owners)
	return out
}

// Release drops the autoloads, explicit namespaces and inceptions owned by
// o while keeping o registered.
func Release(o Owner) {
	mu.Lock()
	defer mu.Unlock()
	for path, owner := range autoloads {
		if owner == o {
			delete(autoloads, path)
		}
	}
	for ref, owner := range explicit {
		if owner == o {
			delete(explicit, ref)
		}
	}
	for ref, inception := range inceptions {
		if inception.Owner == o {
			delete(inceptions, ref)
		}
	}
	syncHookLocked()
}

// ConflictError reports an attempt to manage a directory another loader
// already manages.
type ConflictError struct {
	Dir   string
	Owner string
	Other string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("loader %s wants to manage directory %s, which is already managed by loader %s",
		e.Owner, e.Dir, e.Other)
}

// Claim verifies, under the global lock, that no other registered loader
// manages dir, then runs commit while still holding the lock so two
// loaders cannot claim overlapping directories concurrently.
func Claim(o Owner, dir string, commit func()) error {
	mu.Lock()
	defer mu.Unlock()
	for _, other := range owners {
		if other == o {
			continue
		}
		if other.Manages(dir) {
			return &ConflictError{Dir: dir, Owner: o.ID(), Other: other.ID()}
		}
	}
	commit()
	return nil
}

// Overlaps reports whether a and b are equal or one contains the other.
func Overlaps(a, b string) bool {
	return a == b || Contains(a, b) || Contains(b, a)
}

// Contains reports whether dir is a strict ancestor of path.
func Contains(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if dir == string(filepath.Separator) {
		return path != dir && strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// RegisterAutoload records that o installed a trigger backed by path.
func RegisterAutoload(o Owner, path string) {
	mu.Lock()
	defer mu.Unlock()
	autoloads[path] = o
}

// UnregisterAutoload forgets the trigger backed by path.
func UnregisterAutoload(path string) {
	mu.Lock()
	defer mu.Unlock()
	delete(autoloads, path)
}

// LoaderFor returns the loader whose trigger is backed by path.
func LoaderFor(path string) (Owner, bool) {
	mu.Lock()
	defer mu.Unlock()
	o, ok := autoloads[path]
	return o, ok
}

// RegisterExplicitNamespace records that ref is a namespace defined by a
// source file of o. When the namespace is defined, o.OnNamespaceLoaded runs.
func RegisterExplicitNamespace(ref namespace.Ref, o Owner) {
	mu.Lock()
	defer mu.Unlock()
	explicit[ref] = o
	syncHookLocked()
}

// ExplicitNamespace reports which loader registered ref as explicit.
func ExplicitNamespace(ref namespace.Ref) (Owner, bool) {
	mu.Lock()
	defer mu.Unlock()
	o, ok := explicit[ref]
	return o, ok
}

// ForgetNamespace drops the explicit namespaces and inceptions registered
// directly under ns. Loaders call it when they discard a namespace they
// were populating.
func ForgetNamespace(ns *namespace.Namespace) {
	mu.Lock()
	defer mu.Unlock()
	for ref := range explicit {
		if ref.Parent == ns {
			delete(explicit, ref)
		}
	}
	for ref := range inceptions {
		if ref.Parent == ns {
			delete(inceptions, ref)
		}
	}
	syncHookLocked()
}

// syncHookLocked keeps the namespace observer installed only while some
// explicit namespace is registered.
func syncHookLocked() {
	switch {
	case len(explicit) > 0 && stopHook == nil:
		stopHook = namespace.Observe(onDefine)
	case len(explicit) == 0 && stopHook != nil:
		stopHook()
		stopHook = nil
	}
}

func onDefine(parent *namespace.Namespace, name string, value any) error {
	ns, ok := value.(*namespace.Namespace)
	if !ok {
		return nil
	}
	ref := namespace.Ref{Parent: parent, Name: name}
	mu.Lock()
	o, ok := explicit[ref]
	mu.Unlock()
	if !ok {
		return nil
	}
	return o.OnNamespaceLoaded(ref, ns)
}

// BeginEvaluation marks path as being evaluated. Calls nest.
func BeginEvaluation(path string) {
	mu.Lock()
	defer mu.Unlock()
	evaluating[path]++
}

// EndEvaluation undoes one BeginEvaluation for path.
func EndEvaluation(path string) {
	mu.Lock()
	defer mu.Unlock()
	if evaluating[path] <= 1 {
		delete(evaluating, path)
		return
	}
	evaluating[path]--
}

// Evaluating reports whether path is being evaluated right now.
func Evaluating(path string) bool {
	mu.Lock()
	defer mu.Unlock()
	return evaluating[path] > 0
}

// RegisterInception records that ref is being defined by source on behalf
// of o.
func RegisterInception(ref namespace.Ref, source string, o Owner) {
	mu.Lock()
	defer mu.Unlock()
	inceptions[ref] = Inception{Source: source, Owner: o}
}

// UnregisterInception forgets ref.
func UnregisterInception(ref namespace.Ref) {
	mu.Lock()
	defer mu.Unlock()
	delete(inceptions, ref)
}

// InceptionFor returns the inception recorded for ref.
func InceptionFor(ref namespace.Ref) (Inception, bool) {
	mu.Lock()
	defer mu.Unlock()
	i, ok := inceptions[ref]
	return i, ok
}
