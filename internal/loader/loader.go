// Package loader maps directory trees onto namespaces of lazy bindings.
//
// A Loader is configured with root directories, each mounted on a
// namespace. Setup walks the roots and installs a trigger for every source
// file and namespace directory it finds. A trigger is resolved the first
// time its name is looked up: file triggers hand the file to the
// Evaluator, directory triggers materialize an implicit namespace and
// install the triggers of the directory contents into it. EagerLoad
// resolves everything up front, and Unload/Reload tear the installation
// down and redo it.
package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"lazyns/internal/inflect"
	"lazyns/internal/namespace"
	"lazyns/internal/registry"
	"lazyns/internal/source"
)

// AnyBinding registers OnLoad and OnUnload callbacks for every binding.
const AnyBinding = "*"

// Evaluator runs source files.
type Evaluator interface {
	// Handles reports whether path is a source file.
	Handles(path string) bool
	// Evaluate runs the file at path, which is expected to define name on
	// parent. Lookups performed while evaluating must use ctx.
	Evaluate(ctx context.Context, path string, parent *namespace.Namespace, name string) error
}

// Callback observes a binding being loaded or unloaded.
type Callback func(path string, value any, source string) error

// RootEntry is a root directory and the namespace it is mounted on.
type RootEntry struct {
	Path      string
	Namespace *namespace.Namespace
}

type unloadEntry struct {
	source string
	ref    namespace.Ref
}

// Loader manages a set of root directories.
type Loader struct {
	id        string
	tag       string
	inflector inflect.Camelizer
	evaluator Evaluator
	logf      func(string)

	// mu serializes setup, unload, reload, eager loading and configuration.
	mu sync.Mutex
	// lifecycle is held shared by outermost resolutions and exclusively by
	// unload.
	lifecycle sync.RWMutex

	// configMu guards roots and the classifier. Manages reads them while
	// the registry lock is held, so no registry call happens under it.
	configMu   sync.RWMutex
	roots      []RootEntry
	classifier *Classifier

	// stateMu guards the installation bookkeeping.
	stateMu        sync.Mutex
	autoloads      map[string]namespace.Ref
	autoloadedDirs []string
	lazySubdirs    map[string][]string
	toUnload       map[string]unloadEntry
	unloadOrder    []string
	shadowed       map[string]bool

	cbMu     sync.Mutex
	onLoad   map[string][]Callback
	onUnload map[string][]Callback
	onSetup  []func() error

	reloading   atomic.Bool
	setup       bool
	eagerLoaded bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithTag sets the tag used in log messages.
func WithTag(tag string) Option {
	return func(l *Loader) { l.tag = tag }
}

// WithLogger routes trace messages to fn. Without it nothing is traced.
func WithLogger(fn func(string)) Option {
	return func(l *Loader) { l.logf = fn }
}

// WithInflector replaces the default inflect.Inflector.
func WithInflector(c inflect.Camelizer) Option {
	return func(l *Loader) { l.inflector = c }
}

// WithEvaluator replaces the default data file evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(l *Loader) { l.evaluator = e }
}

// New creates a loader and registers it process-wide.
func New(opts ...Option) *Loader {
	id := uuid.NewString()
	l := &Loader{
		id:          id,
		tag:         id[:8],
		inflector:   inflect.New(),
		evaluator:   source.New(),
		classifier:  newClassifier(),
		autoloads:   make(map[string]namespace.Ref),
		lazySubdirs: make(map[string][]string),
		toUnload:    make(map[string]unloadEntry),
		shadowed:    make(map[string]bool),
		onLoad:      make(map[string][]Callback),
		onUnload:    make(map[string][]Callback),
	}
	for _, opt := range opts {
		opt(l)
	}
	registry.Register(l)
	return l
}

// ID returns the unique identifier of the loader.
func (l *Loader) ID() string { return l.id }

// Tag returns the tag used in log messages.
func (l *Loader) Tag() string { return l.tag }

// String identifies the loader in diagnostics.
func (l *Loader) String() string { return "lazyns@" + l.tag }

// Inflector returns the camelizer deriving binding names.
func (l *Loader) Inflector() inflect.Camelizer { return l.inflector }

func (l *Loader) log(format string, args ...any) {
	if l.logf == nil {
		return
	}
	l.logf(l.String() + ": " + fmt.Sprintf(format, args...))
}

// Unregister removes the loader from the process-wide registry. The loader
// must not be used afterwards.
func (l *Loader) Unregister() {
	registry.Unregister(l)
}

// Ignore hides the paths matching patterns from the loader.
func (l *Loader) Ignore(patterns ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configMu.Lock()
	defer l.configMu.Unlock()
	return l.classifier.Ignore(patterns...)
}

// Collapse makes the directories matching patterns contribute their
// contents to the parent namespace.
func (l *Loader) Collapse(patterns ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configMu.Lock()
	defer l.configMu.Unlock()
	return l.classifier.Collapse(patterns...)
}

// ExcludeFromEagerLoad keeps the paths matching patterns lazy during eager
// loading.
func (l *Loader) ExcludeFromEagerLoad(patterns ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configMu.Lock()
	defer l.configMu.Unlock()
	return l.classifier.ExcludeFromEagerLoad(patterns...)
}

// Classify returns the current classification of an absolute path.
func (l *Loader) Classify(path string) Class {
	l.configMu.RLock()
	defer l.configMu.RUnlock()
	return l.classifier.Classify(path)
}

// EnableReloading turns on the bookkeeping Reload needs. It must be called
// before Setup and cannot be undone.
func (l *Loader) EnableReloading() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reloading.Load() {
		return nil
	}
	if l.setup {
		return ErrAlreadySetup
	}
	l.reloading.Store(true)
	return nil
}

// ReloadingEnabled reports whether EnableReloading was called.
func (l *Loader) ReloadingEnabled() bool { return l.reloading.Load() }

// OnLoad registers fn to run when the binding at path, or any binding for
// AnyBinding, is loaded. Path-specific callbacks run first. Other
// referencers of the binding wait until every callback has returned, so fn
// must use the value it is given rather than look the binding up again.
func (l *Loader) OnLoad(path string, fn Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onLoad[path] = append(l.onLoad[path], fn)
}

// OnUnload registers fn to run before the binding at path, or any binding
// for AnyBinding, is unloaded.
func (l *Loader) OnUnload(path string, fn Callback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onUnload[path] = append(l.onUnload[path], fn)
}

// OnSetup registers fn to run at the end of every setup.
func (l *Loader) OnSetup(fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onSetup = append(l.onSetup, fn)
}

func (l *Loader) runOnLoad(path string, value any, src string) error {
	l.cbMu.Lock()
	callbacks := append([]Callback(nil), l.onLoad[path]...)
	if !l.reloading.Load() {
		delete(l.onLoad, path)
	}
	callbacks = append(callbacks, l.onLoad[AnyBinding]...)
	l.cbMu.Unlock()

	for _, fn := range callbacks {
		if err := fn(path, value, src); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) runOnUnload(path string, value any, src string) error {
	l.cbMu.Lock()
	callbacks := append([]Callback(nil), l.onUnload[path]...)
	callbacks = append(callbacks, l.onUnload[AnyBinding]...)
	l.cbMu.Unlock()

	for _, fn := range callbacks {
		if err := fn(path, value, src); err != nil {
			return err
		}
	}
	return nil
}

// Setup installs the triggers of every root directory. Roots that no
// longer exist or are ignored are skipped. Calling Setup again before
// Unload does nothing.
func (l *Loader) Setup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setupLocked()
}

func (l *Loader) setupLocked() error {
	if l.setup {
		return nil
	}

	l.configMu.Lock()
	err := l.classifier.Recompute()
	l.configMu.Unlock()
	if err != nil {
		return err
	}

	l.stateMu.Lock()
	for _, root := range l.actualRoots() {
		if err := l.defineTriggersForDir(root.Path, root.Namespace); err != nil {
			l.stateMu.Unlock()
			return err
		}
	}
	l.stateMu.Unlock()

	l.cbMu.Lock()
	callbacks := append([]func() error(nil), l.onSetup...)
	l.cbMu.Unlock()
	for _, fn := range callbacks {
		if err := fn(); err != nil {
			return err
		}
	}

	l.setup = true
	l.log("setup complete")
	return nil
}

// IsSetup reports whether Setup ran since the last Unload.
func (l *Loader) IsSetup() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setup
}

// Reload unloads everything and sets the loader up again, picking up file
// system changes. Reloading must have been enabled before the first Setup.
func (l *Loader) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.reloading.Load() {
		return ErrReloadingDisabled
	}
	if !l.setup {
		return ErrSetupRequired
	}

	unloadErr := l.unloadLocked()
	if err := l.setupLocked(); err != nil {
		if unloadErr != nil {
			return fmt.Errorf("%w; setup: %w", unloadErr, err)
		}
		return err
	}
	return unloadErr
}

// IsUnloadable reports whether the binding at path would be removed by
// Unload. It is always false unless reloading is enabled.
func (l *Loader) IsUnloadable(path string) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	_, ok := l.toUnload[path]
	return ok
}

// AllUnloadable returns the sorted paths of every unloadable binding.
func (l *Loader) AllUnloadable() []string {
	l.stateMu.Lock()
	paths := make([]string, 0, len(l.toUnload))
	for path := range l.toUnload {
		paths = append(paths, path)
	}
	l.stateMu.Unlock()
	sort.Strings(paths)
	return paths
}

// EagerLoadAll eager loads every registered loader, stopping at the first
// error.
func EagerLoadAll() error {
	for _, o := range registry.Owners() {
		l, ok := o.(*Loader)
		if !ok {
			continue
		}
		if err := l.EagerLoad(); err != nil {
			return fmt.Errorf("%s: %w", l, err)
		}
	}
	return nil
}
