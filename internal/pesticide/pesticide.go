package pesticide

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

// ErrEmptyFallback is returned when a table would be built without a default entry.
var ErrEmptyFallback = errors.New("pesticide fallback must not be empty")

// DefaultFallback is returned for crops that have no entry.
var DefaultFallback = []string{"General Insecticide"}

var builtin = map[string][]string{
	"rice":  {"Carbofuran", "Imidacloprid"},
	"maize": {"Atrazine", "Glyphosate"},
	"wheat": {"2,4-D", "Mancozeb"},
}

// Table maps crop labels to pesticide lists. Immutable after construction.
type Table struct {
	entries  map[string][]string
	fallback []string
}

// Default returns the built-in table.
func Default() *Table {
	t, _ := New(nil, nil)
	return t
}

// New returns the built-in table with overrides applied. Override keys are
// matched case-insensitively; an override with an empty list removes the crop
// so it resolves to the fallback. A nil fallback keeps DefaultFallback.
func New(overrides map[string][]string, fallback []string) (*Table, error) {
	entries := make(map[string][]string, len(builtin)+len(overrides))
	for crop, list := range builtin {
		entries[key(crop)] = clean(list)
	}
	for crop, list := range overrides {
		k := key(crop)
		if k == "" {
			continue
		}
		if l := clean(list); len(l) > 0 {
			entries[k] = l
		} else {
			delete(entries, k)
		}
	}
	if fallback == nil {
		fallback = DefaultFallback
	}
	fb := clean(fallback)
	if len(fb) == 0 {
		return nil, ErrEmptyFallback
	}
	return &Table{entries: entries, fallback: fb}, nil
}

// Lookup returns the pesticides for crop, or the fallback. Never empty.
// The returned slice is a copy.
func (t *Table) Lookup(crop string) []string {
	if list, ok := t.entries[key(crop)]; ok {
		return append([]string(nil), list...)
	}
	return append([]string(nil), t.fallback...)
}

// Crops returns the number of crops with a dedicated entry.
func (t *Table) Crops() int {
	return len(t.entries)
}

func key(crop string) string {
	return cases.Fold().String(strings.TrimSpace(crop))
}

func clean(list []string) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
