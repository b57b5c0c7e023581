// Package inflect derives binding names from file and directory basenames.
package inflect

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Camelizer turns a basename (without source extension) found at abspath
// into a binding name.
type Camelizer interface {
	Camelize(basename, abspath string) string
}

// Func adapts an ordinary function to the Camelizer interface.
type Func func(basename, abspath string) string

// Camelize calls f.
func (f Func) Camelize(basename, abspath string) string { return f(basename, abspath) }

// Inflector is the default Camelizer: "user_profile" becomes "UserProfile"
// unless an override for the basename exists.
type Inflector struct {
	mu        sync.RWMutex
	overrides map[string]string
}

// New returns an Inflector without overrides.
func New() *Inflector {
	return &Inflector{overrides: make(map[string]string)}
}

// Inflect registers explicit basename -> name overrides, e.g. "html_parser"
// -> "HTMLParser".
func (i *Inflector) Inflect(overrides map[string]string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for basename, name := range overrides {
		i.overrides[basename] = name
	}
}

// Camelize implements Camelizer.
func (i *Inflector) Camelize(basename, _ string) string {
	i.mu.RLock()
	name, ok := i.overrides[basename]
	i.mu.RUnlock()
	if ok {
		return name
	}
	return Camelize(basename)
}

// Camelize upper-cases the first letter of every underscore-separated
// segment and drops the underscores.
func Camelize(basename string) string {
	var b strings.Builder
	b.Grow(len(basename))
	for _, segment := range strings.Split(basename, "_") {
		if segment == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(segment)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(segment[size:])
	}
	return b.String()
}

// Valid reports whether name is a usable binding name: an upper-case
// letter followed by letters, digits or underscores.
func Valid(name string) bool {
	for i, r := range name {
		switch {
		case i == 0 && !unicode.IsUpper(r):
			return false
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
		default:
			return false
		}
	}
	return name != ""
}
