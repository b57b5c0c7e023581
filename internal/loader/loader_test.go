package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lazyns/internal/inflect"
	"lazyns/internal/namespace"
	"lazyns/internal/registry"
	"lazyns/internal/source"
)

// countingEvaluator records how often every file is evaluated.
type countingEvaluator struct {
	Evaluator
	delay time.Duration

	mu     sync.Mutex
	counts map[string]int
}

func newCountingEvaluator() *countingEvaluator {
	return &countingEvaluator{Evaluator: source.New(), counts: make(map[string]int)}
}

func (c *countingEvaluator) Evaluate(ctx context.Context, path string, parent *namespace.Namespace, name string) error {
	c.mu.Lock()
	c.counts[path]++
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.Evaluator.Evaluate(ctx, path, parent, name)
}

func (c *countingEvaluator) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[path]
}

func (c *countingEvaluator) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// scriptEvaluator runs a Go function per file basename.
type scriptEvaluator map[string]func(ctx context.Context, parent *namespace.Namespace) error

func (s scriptEvaluator) Handles(path string) bool {
	return filepath.Ext(path) == ".yaml"
}

func (s scriptEvaluator) Evaluate(ctx context.Context, path string, parent *namespace.Namespace, _ string) error {
	fn, ok := s[filepath.Base(path)]
	if !ok {
		return fmt.Errorf("no script for %s", path)
	}
	return fn(ctx, parent)
}

func makeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		writeTreeFile(t, dir, rel, content)
	}
	return dir
}

func writeTreeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", rel, err)
	}
}

func newLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()
	l := New(opts...)
	t.Cleanup(func() {
		l.Unload()
		l.Unregister()
	})
	return l
}

// setupLoader pushes dir on a fresh root namespace and runs Setup.
func setupLoader(t *testing.T, dir string, opts ...Option) (*Loader, *namespace.Namespace) {
	t.Helper()
	l := newLoader(t, opts...)
	root := namespace.NewRoot()
	if err := l.Push(dir, root); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return l, root
}

func resolve(t *testing.T, root *namespace.Namespace, path string) any {
	t.Helper()
	v, err := root.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", path, err)
	}
	return v
}

func TestPushValidation(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	l := newLoader(t)

	var cfgErr *ConfigurationError
	if err := l.Push(filepath.Join(dir, "missing"), nil); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for a missing directory, got %v", err)
	}
	if err := l.Push(filepath.Join(dir, "x.yaml"), nil); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for a file, got %v", err)
	}
	if err := l.Push(dir, namespace.New()); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigurationError for an anonymous namespace, got %v", err)
	}

	first := namespace.NewRoot()
	if err := l.Push(dir, first); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := l.Push(dir+string(filepath.Separator), namespace.NewRoot()); err != nil {
		t.Fatalf("Duplicate push failed: %v", err)
	}
	roots := l.Roots()
	if len(roots) != 1 || roots[0].Namespace != first {
		t.Errorf("Expected one root on the first namespace, got %+v", roots)
	}
}

func TestConflicts(t *testing.T) {
	parent := makeTree(t, map[string]string{
		"app/x.yaml":        "X: 1\n",
		"app/deep/z.yaml":   "Z: 1\n",
		"app/vendor/v.yaml": "V: 1\n",
		"lib/y.yaml":        "Y: 1\n",
	})
	app := filepath.Join(parent, "app")

	a := newLoader(t, WithTag("a"))
	if err := a.Push(app, nil); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := a.Ignore(filepath.Join(app, "vendor")); err != nil {
		t.Fatalf("Ignore failed: %v", err)
	}

	tests := []struct {
		name     string
		dir      string
		conflict bool
	}{
		{name: "equal", dir: app, conflict: true},
		{name: "ancestor", dir: parent, conflict: true},
		{name: "descendant", dir: filepath.Join(app, "deep"), conflict: true},
		{name: "ignored descendant", dir: filepath.Join(app, "vendor"), conflict: false},
		{name: "disjoint", dir: filepath.Join(parent, "lib"), conflict: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newLoader(t, WithTag("b"))
			err := b.Push(tt.dir, nil)
			var conflict *ConflictError
			if tt.conflict {
				if !errors.As(err, &conflict) {
					t.Fatalf("Expected ConflictError, got %v", err)
				}
				if conflict.Owner != b.ID() || conflict.Other != a.ID() {
					t.Errorf("Expected conflict between %s and %s, got %+v", b.ID(), a.ID(), conflict)
				}
				return
			}
			if err != nil {
				t.Errorf("Expected no conflict, got %v", err)
			}
		})
	}

	if !a.Manages(filepath.Join(app, "models")) || !a.Manages(parent) {
		t.Error("Loader should manage its root, descendants and ancestors")
	}
	if a.Manages(filepath.Join(parent, "lib")) {
		t.Error("Loader should not manage a sibling directory")
	}
}

func TestLazyFileBinding(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	eval := newCountingEvaluator()
	_, root := setupLoader(t, dir, WithEvaluator(eval))

	if root.Defined("X") {
		t.Fatal("X must not be evaluated before it is referenced")
	}
	if trig, ok := root.Trigger("X"); !ok || trig.IsDir() || trig.Source() != filepath.Join(dir, "x.yaml") {
		t.Fatalf("Expected a file trigger for X, got %v", trig)
	}
	if v := resolve(t, root, "X"); v != 1 {
		t.Errorf("Expected X == 1, got %v", v)
	}
	if eval.total() != 1 {
		t.Errorf("Expected one evaluation, got %d", eval.total())
	}
	if _, ok := registry.LoaderFor(filepath.Join(dir, "x.yaml")); ok {
		t.Error("Resolved files should leave the autoload registry")
	}
}

func TestImplicitNamespace(t *testing.T) {
	dir := makeTree(t, map[string]string{"admin/role.yaml": "Role: 1\n"})
	_, root := setupLoader(t, dir)

	trig, ok := root.Trigger("Admin")
	if !ok || !trig.IsDir() {
		t.Fatalf("Expected a directory trigger for Admin")
	}
	if v := resolve(t, root, "Admin.Role"); v != 1 {
		t.Errorf("Expected Admin.Role == 1, got %v", v)
	}
	admin := resolve(t, root, "Admin").(*namespace.Namespace)
	if !admin.Implicit() {
		t.Error("Admin should be an implicit namespace")
	}
	if admin.Path() != "Admin" {
		t.Errorf("Expected path Admin, got %q", admin.Path())
	}
}

func TestNameMismatch(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "Y: 1\n"})
	_, root := setupLoader(t, dir)

	_, err := root.Lookup(context.Background(), "X")
	var mismatch *NameMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected NameMismatchError, got %v", err)
	}
	if mismatch.Path != filepath.Join(dir, "x.yaml") || mismatch.Expected != "X" {
		t.Errorf("Unexpected mismatch details: %+v", mismatch)
	}
	if _, ok := root.Trigger("X"); ok {
		t.Error("The trigger should be removed after a mismatch")
	}
	if !root.Defined("Y") {
		t.Error("Bindings defined by the file stay defined")
	}
}

func TestCollapse(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"models/user.yaml":              "User: 1\n",
		"models/concerns/audit.yaml":    "Audit: 2\n",
		"models/concerns/nested/n.yaml": "N: 3\n",
	})
	l := newLoader(t)
	root := namespace.NewRoot()
	if err := l.Push(dir, root); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := l.Collapse(filepath.Join(dir, "models", "concerns")); err != nil {
		t.Fatalf("Collapse failed: %v", err)
	}
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if v := resolve(t, root, "Models.Audit"); v != 2 {
		t.Errorf("Expected Models.Audit == 2, got %v", v)
	}
	if v := resolve(t, root, "Models.Nested.N"); v != 3 {
		t.Errorf("Expected Models.Nested.N == 3, got %v", v)
	}
	models := resolve(t, root, "Models").(*namespace.Namespace)
	if models.Defined("Concerns") {
		t.Error("Collapsed directories must not introduce a namespace")
	}
	if _, ok := models.Trigger("Concerns"); ok {
		t.Error("Collapsed directories must not get a trigger")
	}
	if got := l.Classify(filepath.Join(dir, "models", "concerns")); got != Collapsed {
		t.Errorf("Expected collapsed classification, got %v", got)
	}
}

func TestConcurrentResolutionEvaluatesOnce(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"x.yaml":          "X:\n  Value: 1\n",
		"admin/role.yaml": "Role: 1\n",
	})
	eval := newCountingEvaluator()
	eval.delay = 20 * time.Millisecond
	_, root := setupLoader(t, dir, WithEvaluator(eval))

	const n = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	values := make([]any, n)
	admins := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			values[i], errs[i] = root.Lookup(context.Background(), "X")
			if errs[i] == nil {
				admins[i], errs[i] = root.Resolve(context.Background(), "Admin")
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Goroutine %d failed: %v", i, errs[i])
		}
		if values[i] != values[0] {
			t.Errorf("Goroutine %d observed a different X", i)
		}
		if admins[i] != admins[0] {
			t.Errorf("Goroutine %d observed a different Admin", i)
		}
	}
	if got := eval.count(filepath.Join(dir, "x.yaml")); got != 1 {
		t.Errorf("Expected x.yaml to be evaluated once, got %d", got)
	}
}

func TestConcurrentReferencerWaitsForCompleteBinding(t *testing.T) {
	dir := makeTree(t, map[string]string{"admin.yaml": ""})
	defined := make(chan struct{})
	release := make(chan struct{})
	eval := scriptEvaluator{
		"admin.yaml": func(_ context.Context, parent *namespace.Namespace) error {
			admin := namespace.New()
			if err := parent.Define("Admin", admin); err != nil {
				return err
			}
			close(defined)
			<-release
			return admin.Define("Role", 1)
		},
	}
	l, root := setupLoader(t, dir, WithEvaluator(eval))
	var loaded atomic.Bool
	l.OnLoad("Admin", func(string, any, string) error {
		loaded.Store(true)
		return nil
	})

	first := make(chan error, 1)
	go func() {
		_, err := root.Lookup(context.Background(), "Admin")
		first <- err
	}()
	<-defined

	type result struct {
		value  any
		err    error
		loaded bool
	}
	second := make(chan result, 1)
	go func() {
		v, err := root.Resolve(context.Background(), "Admin.Role")
		second <- result{value: v, err: err, loaded: loaded.Load()}
	}()

	select {
	case r := <-second:
		t.Fatalf("Second referencer returned before the file was evaluated: %v, %v", r.value, r.err)
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := root.Trigger("Admin"); !ok {
		t.Error("The trigger stays installed while its file is evaluated")
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("Resolution failed: %v", err)
	}
	r := <-second
	if r.err != nil {
		t.Fatalf("Second referencer failed: %v", r.err)
	}
	if r.value != 1 {
		t.Errorf("Expected Admin.Role == 1, got %v", r.value)
	}
	if !r.loaded {
		t.Error("OnLoad callbacks must run before waiting referencers get the binding")
	}
	if _, ok := root.Trigger("Admin"); ok {
		t.Error("The trigger is removed once the binding is loaded")
	}
}

func TestFailedMaterializationDiscardsTriggers(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"admin/role.yaml": "Role: 1\n",
		"admin/zz.yaml":   "Zz: 1\n",
	})
	camelize := inflect.Func(func(base, _ string) string {
		if base == "zz" {
			return base
		}
		return inflect.Camelize(base)
	})
	l, root := setupLoader(t, dir, WithInflector(camelize))
	role := filepath.Join(dir, "admin", "role.yaml")

	_, err := root.Lookup(context.Background(), "Admin")
	var naming *NamingError
	if !errors.As(err, &naming) {
		t.Fatalf("Expected NamingError, got %v", err)
	}
	if _, ok := registry.LoaderFor(role); ok {
		t.Error("Triggers installed into the discarded namespace must be unregistered")
	}
	if _, ok := root.Trigger("Admin"); !ok {
		t.Error("Admin keeps its trigger for a retry")
	}

	if err := os.Remove(filepath.Join(dir, "admin", "zz.yaml")); err != nil {
		t.Fatalf("Failed to remove zz.yaml: %v", err)
	}
	resolve(t, root, "Admin")
	if o, ok := registry.LoaderFor(role); !ok || o != registry.Owner(l) {
		t.Errorf("The retry should install role.yaml again, got %v, %v", o, ok)
	}
	if v := resolve(t, root, "Admin.Role"); v != 1 {
		t.Errorf("Expected Admin.Role == 1 after the retry, got %v", v)
	}
}

func TestEagerLoad(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"x.yaml":            "X: 1\n",
		"admin/role.yaml":   "Role: 1\n",
		"admin/deep/d.yaml": "D: 1\n",
		"skipped/s.yaml":    "S: 1\n",
		"admin/lazy.yaml":   "Lazy: 1\n",
		"notes/readme.txt":  "not a source file",
	})
	eval := newCountingEvaluator()
	l := newLoader(t, WithEvaluator(eval))
	root := namespace.NewRoot()
	if err := l.Push(dir, root); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := l.EagerLoad(); !errors.Is(err, ErrSetupRequired) {
		t.Errorf("Expected ErrSetupRequired before setup, got %v", err)
	}
	if err := l.ExcludeFromEagerLoad(filepath.Join(dir, "skipped"), filepath.Join(dir, "admin", "lazy.yaml")); err != nil {
		t.Fatalf("ExcludeFromEagerLoad failed: %v", err)
	}
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := l.EagerLoad(); err != nil {
		t.Fatalf("EagerLoad failed: %v", err)
	}
	if eval.total() != 3 {
		t.Errorf("Expected 3 evaluations, got %d", eval.total())
	}
	if err := l.EagerLoad(); err != nil {
		t.Fatalf("Second EagerLoad failed: %v", err)
	}
	if eval.total() != 3 {
		t.Errorf("A second eager load must not evaluate anything, got %d evaluations", eval.total())
	}
	if !l.IsEagerLoaded() {
		t.Error("Expected the loader to report eager loaded")
	}

	admin := resolve(t, root, "Admin").(*namespace.Namespace)
	if admin.Defined("Lazy") {
		t.Error("Excluded files must stay lazy")
	}
	if _, ok := root.Trigger("Skipped"); !ok {
		t.Error("Excluded directories keep their trigger")
	}
	if root.Defined("Notes") {
		t.Error("Directories without source files are not namespaces")
	}
	if _, ok := registry.LoaderFor(filepath.Join(dir, "admin")); ok {
		t.Error("Consumed directory triggers should leave the autoload registry")
	}
}

func TestReload(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	l := newLoader(t)
	if err := l.EnableReloading(); err != nil {
		t.Fatalf("EnableReloading failed: %v", err)
	}
	root := namespace.NewRoot()
	if err := l.Push(dir, root); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := l.Reload(); !errors.Is(err, ErrSetupRequired) {
		t.Errorf("Expected ErrSetupRequired, got %v", err)
	}
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if v := resolve(t, root, "X"); v != 1 {
		t.Fatalf("Expected X == 1, got %v", v)
	}

	writeTreeFile(t, dir, "x.yaml", "X: 2\n")
	writeTreeFile(t, dir, "y.yaml", "Y: 3\n")
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if v := resolve(t, root, "X"); v != 2 {
		t.Errorf("Expected X == 2 after reload, got %v", v)
	}
	if v := resolve(t, root, "Y"); v != 3 {
		t.Errorf("Expected new file Y after reload, got %v", v)
	}
}

func TestReloadingPreconditions(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	l, _ := setupLoader(t, dir)

	if err := l.Reload(); !errors.Is(err, ErrReloadingDisabled) {
		t.Errorf("Expected ErrReloadingDisabled, got %v", err)
	}
	if err := l.EnableReloading(); !errors.Is(err, ErrAlreadySetup) {
		t.Errorf("Expected ErrAlreadySetup, got %v", err)
	}
	if l.ReloadingEnabled() {
		t.Error("Reloading must stay disabled")
	}
}

func TestReloadIdentity(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"admin/role.yaml": "Role: 1\n",
		"shared/a.yaml":   "A: 1\n",
	})
	root := namespace.NewRoot()
	shared := namespace.New()
	root.Define("Shared", shared)

	l := newLoader(t)
	l.EnableReloading()
	if err := l.Push(dir, root); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	before := resolve(t, root, "Admin")
	if v := resolve(t, root, "Shared.A"); v != 1 {
		t.Fatalf("Expected Shared.A == 1, got %v", v)
	}
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	after := resolve(t, root, "Admin")

	if before == after {
		t.Error("Implicit namespaces get a new identity on reload")
	}
	if resolve(t, root, "Shared") != shared {
		t.Error("Pre-existing namespaces keep their identity on reload")
	}
	if shared.Defined("A") {
		t.Error("Bindings inside pre-existing namespaces are unloaded")
	}
	if v := resolve(t, root, "Shared.A"); v != 1 {
		t.Errorf("Expected Shared.A to be reinstalled, got %v", v)
	}
}

func TestUnloadable(t *testing.T) {
	files := map[string]string{"x.yaml": "X: 1\n", "admin/role.yaml": "Role: 1\n"}

	t.Run("reloading disabled", func(t *testing.T) {
		l, root := setupLoader(t, makeTree(t, files))
		resolve(t, root, "Admin.Role")
		resolve(t, root, "X")
		if got := l.AllUnloadable(); len(got) != 0 {
			t.Errorf("Expected nothing unloadable, got %v", got)
		}
		if l.IsUnloadable("X") {
			t.Error("X must not be unloadable")
		}
	})

	t.Run("reloading enabled", func(t *testing.T) {
		dir := makeTree(t, files)
		l := newLoader(t)
		l.EnableReloading()
		root := namespace.NewRoot()
		l.Push(dir, root)
		if err := l.Setup(); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		resolve(t, root, "Admin.Role")
		resolve(t, root, "X")

		expected := []string{"Admin", "Admin.Role", "X"}
		if got := l.AllUnloadable(); !reflect.DeepEqual(got, expected) {
			t.Errorf("Expected %v, got %v", expected, got)
		}
		if !l.IsUnloadable("Admin.Role") {
			t.Error("Admin.Role should be unloadable")
		}
	})
}

func TestUnload(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"x.yaml":          "X: 1\n",
		"y.yaml":          "Y: 2\n",
		"admin/role.yaml": "Role: 1\n",
	})
	l, root := setupLoader(t, dir)
	resolve(t, root, "X")
	resolve(t, root, "Admin")

	if err := l.Unload(); err != nil {
		t.Fatalf("Unload failed: %v", err)
	}
	if got := root.Names(); len(got) != 0 {
		t.Errorf("Expected an empty namespace after unload, got %v", got)
	}
	if l.IsSetup() {
		t.Error("Unload should mark the loader as not set up")
	}
	if _, ok := registry.LoaderFor(filepath.Join(dir, "y.yaml")); ok {
		t.Error("Unload should release autoload registrations")
	}

	if err := l.Setup(); err != nil {
		t.Fatalf("Setup after unload failed: %v", err)
	}
	if v := resolve(t, root, "X"); v != 1 {
		t.Errorf("Expected X == 1 after setting up again, got %v", v)
	}
}

func TestUnloadWaitsForResolution(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": ""})
	started := make(chan struct{})
	release := make(chan struct{})
	eval := scriptEvaluator{
		"x.yaml": func(_ context.Context, parent *namespace.Namespace) error {
			close(started)
			<-release
			return parent.Define("X", 1)
		},
	}
	l, root := setupLoader(t, dir, WithEvaluator(eval))

	resolved := make(chan error, 1)
	go func() {
		_, err := root.Lookup(context.Background(), "X")
		resolved <- err
	}()
	<-started

	unloaded := make(chan error, 1)
	go func() { unloaded <- l.Unload() }()

	select {
	case <-unloaded:
		t.Fatal("Unload must wait for the in-flight resolution")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-resolved; err != nil {
		t.Fatalf("Resolution failed: %v", err)
	}
	if err := <-unloaded; err != nil {
		t.Fatalf("Unload failed: %v", err)
	}
	if root.Defined("X") {
		t.Error("X should be removed by unload")
	}
}

func TestExplicitNamespace(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"admin.yaml":      "Admin:\n  Name: console\n",
		"admin/role.yaml": "Role: 1\n",
	})
	l := newLoader(t)
	l.EnableReloading()
	root := namespace.NewRoot()
	l.Push(dir, root)
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	trig, ok := root.Trigger("Admin")
	if !ok || trig.IsDir() || trig.Source() != filepath.Join(dir, "admin.yaml") {
		t.Fatalf("Expected Admin to be promoted to a file trigger, got %v", trig)
	}
	ref := namespace.Ref{Parent: root, Name: "Admin"}
	if o, ok := registry.ExplicitNamespace(ref); !ok || o != registry.Owner(l) {
		t.Error("Admin should be registered as an explicit namespace")
	}

	if v := resolve(t, root, "Admin.Role"); v != 1 {
		t.Errorf("Expected Admin.Role == 1, got %v", v)
	}
	if v := resolve(t, root, "Admin.Name"); v != "console" {
		t.Errorf("Expected Admin.Name == console, got %v", v)
	}
	admin := resolve(t, root, "Admin").(*namespace.Namespace)
	if admin.Implicit() {
		t.Error("Admin is defined by a file and must be explicit")
	}

	if err := l.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if v := resolve(t, root, "Admin.Role"); v != 1 {
		t.Errorf("Expected Admin.Role == 1 after reload, got %v", v)
	}
}

func TestShadowedFiles(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"x.json": `{"X": "json"}`,
		"x.yaml": "X: yaml\n",
		"y.yaml": "Y: 1\n",
	})
	var logs []string
	var mu sync.Mutex
	logf := func(msg string) {
		mu.Lock()
		logs = append(logs, msg)
		mu.Unlock()
	}

	root := namespace.NewRoot()
	root.Define("Y", "predefined")
	l := newLoader(t, WithLogger(logf))
	l.Push(dir, root)
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if v := resolve(t, root, "X"); v != "json" {
		t.Errorf("The first file must win, got %v", v)
	}
	if v := resolve(t, root, "Y"); v != "predefined" {
		t.Errorf("Pre-existing bindings must not be replaced, got %v", v)
	}

	if _, err := l.LoadFile(filepath.Join(dir, "x.yaml")); !errors.Is(err, ErrShadowed) {
		t.Errorf("Expected ErrShadowed, got %v", err)
	}
	if err := l.EagerLoad(); err != nil {
		t.Errorf("Eager load must skip shadowed files: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, msg := range logs {
		if strings.Contains(msg, "x.yaml is ignored because") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a log entry for the shadowed file, got %v", logs)
	}
}

func TestCallbacks(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "X: 1\n", "admin/role.yaml": "Role: 2\n"})
	l := newLoader(t)
	l.EnableReloading()
	root := namespace.NewRoot()
	l.Push(dir, root)

	var events []string
	l.OnLoad("X", func(path string, value any, src string) error {
		events = append(events, fmt.Sprintf("load %s=%v", path, value))
		return nil
	})
	l.OnLoad(AnyBinding, func(path string, _ any, _ string) error {
		events = append(events, "any "+path)
		return nil
	})
	l.OnUnload(AnyBinding, func(path string, value any, _ string) error {
		events = append(events, fmt.Sprintf("unload %s=%v", path, value))
		return nil
	})
	setups := 0
	l.OnSetup(func() error {
		setups++
		return nil
	})

	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	resolve(t, root, "X")
	resolve(t, root, "Admin.Role")
	if err := l.Unload(); err != nil {
		t.Fatalf("Unload failed: %v", err)
	}

	expected := []string{
		"load X=1",
		"any X",
		"any Admin",
		"any Admin.Role",
		"unload X=1",
		"unload Admin=Admin",
		"unload Admin.Role=2",
	}
	if !reflect.DeepEqual(events, expected) {
		t.Errorf("Expected events %v, got %v", expected, events)
	}
	if setups != 1 {
		t.Errorf("Expected one setup callback, got %d", setups)
	}
}

func TestCallbackErrorsPropagate(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	l, root := setupLoader(t, dir)
	boom := errors.New("boom")
	l.OnLoad("X", func(string, any, string) error { return boom })

	if _, err := root.Lookup(context.Background(), "X"); !errors.Is(err, boom) {
		t.Errorf("Expected callback error, got %v", err)
	}
	if v := resolve(t, root, "X"); v != 1 {
		t.Errorf("The binding stays defined after a callback error, got %v", v)
	}
}

func TestNamingError(t *testing.T) {
	dir := makeTree(t, map[string]string{"2fast.yaml": "X: 1\n"})
	l := newLoader(t)
	l.Push(dir, nil)

	err := l.Setup()
	var naming *NamingError
	if !errors.As(err, &naming) {
		t.Fatalf("Expected NamingError, got %v", err)
	}
	if naming.IsDir || naming.Path != filepath.Join(dir, "2fast.yaml") {
		t.Errorf("Unexpected naming error details: %+v", naming)
	}
	if !strings.Contains(err.Error(), "file") {
		t.Errorf("The message should name the entry kind: %v", err)
	}

	if err := l.Ignore(filepath.Join(dir, "2fast.yaml")); err != nil {
		t.Fatalf("Ignore failed: %v", err)
	}
	if err := l.Setup(); err != nil {
		t.Errorf("Ignoring the file should fix setup: %v", err)
	}
}

func TestCircularReference(t *testing.T) {
	dir := makeTree(t, map[string]string{"a.yaml": "", "b.yaml": ""})
	eval := scriptEvaluator{
		"a.yaml": func(ctx context.Context, parent *namespace.Namespace) error {
			if _, err := parent.Lookup(ctx, "B"); err != nil {
				return err
			}
			return parent.Define("A", 1)
		},
		"b.yaml": func(ctx context.Context, parent *namespace.Namespace) error {
			if _, err := parent.Lookup(ctx, "A"); err != nil {
				return err
			}
			return parent.Define("B", 2)
		},
	}
	_, root := setupLoader(t, dir, WithEvaluator(eval))

	_, err := root.Lookup(context.Background(), "A")
	var circular *namespace.CircularError
	if !errors.As(err, &circular) {
		t.Fatalf("Expected CircularError, got %v", err)
	}
	if expected := []string{"A", "B", "A"}; !reflect.DeepEqual(circular.Chain, expected) {
		t.Errorf("Expected chain %v, got %v", expected, circular.Chain)
	}
}

func TestFailedResolutionCanRetry(t *testing.T) {
	dir := makeTree(t, map[string]string{"x.yaml": ""})
	attempts := 0
	eval := scriptEvaluator{
		"x.yaml": func(_ context.Context, parent *namespace.Namespace) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient")
			}
			return parent.Define("X", attempts)
		},
	}
	_, root := setupLoader(t, dir, WithEvaluator(eval))

	if _, err := root.Lookup(context.Background(), "X"); err == nil {
		t.Fatal("Expected the first resolution to fail")
	}
	if v := resolve(t, root, "X"); v != 2 {
		t.Errorf("Expected the retry to succeed with 2, got %v", v)
	}
}

func TestSetupSkipsMissingAndIgnoredRoots(t *testing.T) {
	kept := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	gone := makeTree(t, map[string]string{"y.yaml": "Y: 1\n"})
	ignored := makeTree(t, map[string]string{"z.yaml": "Z: 1\n"})

	l := newLoader(t)
	root := namespace.NewRoot()
	for _, dir := range []string{kept, gone, ignored} {
		if err := l.Push(dir, root); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	l.Ignore(ignored)
	os.RemoveAll(gone)

	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if got := root.Names(); !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("Expected only X, got %v", got)
	}
	if err := l.Setup(); err != nil {
		t.Errorf("A second setup is a no-op: %v", err)
	}
}

func TestIgnoreAndHidden(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"x.yaml":         "X: 1\n",
		".hidden.yaml":   "Hidden: 1\n",
		"skip/s.yaml":    "S: 1\n",
		"generated.json": `{"Generated": 1}`,
	})
	l := newLoader(t)
	root := namespace.NewRoot()
	l.Push(dir, root)
	l.Ignore(filepath.Join(dir, "skip"), filepath.Join(dir, "*.json"))
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if got := root.Names(); !reflect.DeepEqual(got, []string{"X"}) {
		t.Errorf("Expected only X, got %v", got)
	}
	if got := l.Classify(filepath.Join(dir, "skip", "s.yaml")); got != Ignored {
		t.Errorf("Paths below ignored directories are ignored, got %v", got)
	}
}

func TestNestedRoots(t *testing.T) {
	dir := makeTree(t, map[string]string{
		"x.yaml":        "X: 1\n",
		"engine/e.yaml": "E: 1\n",
	})
	l := newLoader(t)
	root := namespace.NewRoot()
	l.Push(dir, root)
	l.Push(filepath.Join(dir, "engine"), root)
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if _, ok := root.Trigger("Engine"); ok {
		t.Error("Nested roots are not namespaces of their parent root")
	}
	if v := resolve(t, root, "E"); v != 1 {
		t.Errorf("Expected E from the nested root, got %v", v)
	}
}

func TestMultipleRootsShareNamespaces(t *testing.T) {
	first := makeTree(t, map[string]string{"admin/role.yaml": "Role: 1\n"})
	second := makeTree(t, map[string]string{"admin/user.yaml": "User: 2\n"})
	l := newLoader(t)
	root := namespace.NewRoot()
	l.Push(first, root)
	l.Push(second, root)
	if err := l.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if v := resolve(t, root, "Admin.Role"); v != 1 {
		t.Errorf("Expected Admin.Role == 1, got %v", v)
	}
	if v := resolve(t, root, "Admin.User"); v != 2 {
		t.Errorf("Expected Admin.User == 2, got %v", v)
	}
}

func TestEagerLoadAll(t *testing.T) {
	first := makeTree(t, map[string]string{"x.yaml": "X: 1\n"})
	second := makeTree(t, map[string]string{"y.yaml": "Y: 1\n"})
	a, rootA := setupLoader(t, first)
	b, rootB := setupLoader(t, second)

	if err := EagerLoadAll(); err != nil {
		t.Fatalf("EagerLoadAll failed: %v", err)
	}
	if !rootA.Defined("X") || !rootB.Defined("Y") {
		t.Error("Every loader should be eager loaded")
	}
	if !a.IsEagerLoaded() || !b.IsEagerLoaded() {
		t.Error("Both loaders should report eager loaded")
	}
}
