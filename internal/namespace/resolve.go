package namespace

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrCircular indicates a binding referenced while it is being resolved on
// the same call chain.
var ErrCircular = errors.New("circular reference detected")

// Ref identifies a binding by its container and local name.
type Ref struct {
	Parent *Namespace
	Name   string
}

// Path returns the dotted binding path of the reference.
func (r Ref) Path() string {
	return Join(r.Parent.Path(), r.Name)
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return r.Path()
}

type resolvingKey struct{}

// WithResolving returns a context recording that ref is being resolved.
func WithResolving(ctx context.Context, ref Ref) context.Context {
	prev := Resolving(ctx)
	chain := make([]Ref, len(prev), len(prev)+1)
	copy(chain, prev)
	chain = append(chain, ref)
	return context.WithValue(ctx, resolvingKey{}, chain)
}

// Resolving returns the chain of bindings being resolved by the caller,
// outermost first.
func Resolving(ctx context.Context) []Ref {
	if ctx == nil {
		return nil
	}
	chain, _ := ctx.Value(resolvingKey{}).([]Ref)
	return chain
}

// InResolution reports whether ctx belongs to an in-flight resolution.
func InResolution(ctx context.Context) bool {
	return len(Resolving(ctx)) > 0
}

func contains(chain []Ref, ref Ref) bool {
	for _, r := range chain {
		if r == ref {
			return true
		}
	}
	return false
}

// CircularError reports a resolution cycle.
type CircularError struct {
	Chain []string
}

func newCircularError(chain []Ref, again Ref) *CircularError {
	var names []string
	start := 0
	for i, r := range chain {
		if r == again {
			start = i
			break
		}
	}
	for _, r := range chain[start:] {
		names = append(names, r.Path())
	}
	names = append(names, again.Path())
	return &CircularError{Chain: names}
}

// Error implements the error interface.
func (e *CircularError) Error() string {
	return ErrCircular.Error() + ": " + strings.Join(e.Chain, " -> ")
}

// Unwrap allows errors.Is(err, ErrCircular).
func (e *CircularError) Unwrap() error {
	return ErrCircular
}

// DefineFunc observes every Define on every namespace. A non-nil error is
// returned from Define.
type DefineFunc func(parent *Namespace, name string, value any) error

type observer struct {
	id int
	fn DefineFunc
}

var observers struct {
	mu   sync.RWMutex
	next int
	list []observer
}

// Observe registers fn to run after each Define, in registration order.
// The returned function removes the observer.
func Observe(fn DefineFunc) (cancel func()) {
	observers.mu.Lock()
	observers.next++
	id := observers.next
	observers.list = append(observers.list, observer{id: id, fn: fn})
	observers.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			observers.mu.Lock()
			defer observers.mu.Unlock()
			for i, o := range observers.list {
				if o.id == id {
					observers.list = append(observers.list[:i:i], observers.list[i+1:]...)
					return
				}
			}
		})
	}
}

func notify(parent *Namespace, name string, value any) error {
	observers.mu.RLock()
	list := make([]observer, len(observers.list))
	copy(list, observers.list)
	observers.mu.RUnlock()

	var errs []error
	for _, o := range list {
		if err := o.fn(parent, name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
