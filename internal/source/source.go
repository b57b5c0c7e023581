// Package source evaluates data files into namespace bindings.
//
// A source file is a YAML, TOML, JSON (with comments) or CUE document
// whose top-level keys are defined as bindings on the namespace the file
// lives in. Mapping values become namespaces; a mapping whose key already
// holds a namespace is merged into it.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"lazyns/internal/logging"
	"lazyns/internal/namespace"
)

var logger = logging.GetLogger().WithPrefix("source")

// ErrConflict indicates a mapping whose key already holds a value that is
// not a namespace.
var ErrConflict = errors.New("cannot reopen a binding that is not a namespace")

// Decoder parses the contents of a file into its top-level mapping.
type Decoder func(data []byte, path string) (map[string]any, error)

// Evaluator dispatches files to decoders by extension.
type Evaluator struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// New returns an Evaluator for .yaml, .yml, .toml, .json, .jsonc and .cue
// files.
func New() *Evaluator {
	e := &Evaluator{decoders: make(map[string]Decoder)}
	e.Register(".yaml", DecodeYAML)
	e.Register(".yml", DecodeYAML)
	e.Register(".toml", DecodeTOML)
	e.Register(".json", DecodeJSON)
	e.Register(".jsonc", DecodeJSON)
	e.Register(".cue", DecodeCUE)
	return e
}

// Register installs d for files ending in ext, replacing any previous
// decoder for it.
func (e *Evaluator) Register(ext string, d Decoder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decoders[strings.ToLower(ext)] = d
}

// Extensions returns the handled extensions, sorted.
func (e *Evaluator) Extensions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exts := make([]string, 0, len(e.decoders))
	for ext := range e.decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (e *Evaluator) decoder(path string) (Decoder, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.decoders[strings.ToLower(filepath.Ext(path))]
	return d, ok
}

// Handles reports whether path has a registered extension.
func (e *Evaluator) Handles(path string) bool {
	_, ok := e.decoder(path)
	return ok
}

// Evaluate decodes the file at path and defines its top-level keys on
// parent. Whether name ends up defined is checked by the caller.
func (e *Evaluator) Evaluate(ctx context.Context, path string, parent *namespace.Namespace, name string) error {
	d, ok := e.decoder(path)
	if !ok {
		return fmt.Errorf("no decoder for %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := d(data, path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	logger.Debug("Evaluating %s for %s (%d keys)", path, namespace.Join(parent.Path(), name), len(doc))
	return Define(ctx, parent, doc)
}

// Define defines every key of doc on parent, in key order.
func Define(ctx context.Context, parent *namespace.Namespace, doc map[string]any) error {
	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := doc[key]
		m, isMap := asMap(value)
		if !isMap {
			if err := parent.Define(key, value); err != nil {
				return err
			}
			continue
		}

		child, err := open(ctx, parent, key)
		if err != nil {
			return err
		}
		if err := Define(ctx, child, m); err != nil {
			return err
		}
	}
	return nil
}

// open returns the namespace bound to key, defining a new one when key is
// free or pending on the current resolution chain. Other pending bindings
// are resolved first so their contents are merged, not replaced.
func open(ctx context.Context, parent *namespace.Namespace, key string) (*namespace.Namespace, error) {
	_, pending := parent.Trigger(key)
	if parent.Defined(key) || (pending && !resolving(ctx, parent, key)) {
		v, err := parent.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		ns, ok := v.(*namespace.Namespace)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrConflict, namespace.Join(parent.Path(), key))
		}
		return ns, nil
	}

	ns := namespace.New()
	if err := parent.Define(key, ns); err != nil {
		return nil, err
	}
	return ns, nil
}

func resolving(ctx context.Context, parent *namespace.Namespace, key string) bool {
	ref := namespace.Ref{Parent: parent, Name: key}
	for _, r := range namespace.Resolving(ctx) {
		if r == ref {
			return true
		}
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// DecodeYAML decodes a YAML document.
func DecodeYAML(data []byte, _ string) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeTOML decodes a TOML document.
func DecodeTOML(data []byte, _ string) (map[string]any, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeJSON decodes a JSON document. Comments and trailing commas are
// stripped first.
func DecodeJSON(data []byte, _ string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeCUE compiles a CUE document and decodes its concrete value.
func DecodeCUE(data []byte, path string) (map[string]any, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if value.Err() != nil {
		return nil, value.Err()
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := value.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
