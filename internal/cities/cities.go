package cities

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// StatusYes is the farming_status value that marks a city as eligible.
const StatusYes = "Yes"

// Record is one row of the city reference table.
type Record struct {
	Name          string `json:"city"`
	FarmingStatus string `json:"farming_status"`
}

// Eligible reports whether the record's farming status is "Yes" (case-insensitive, trimmed).
func (r Record) Eligible() bool {
	return strings.EqualFold(strings.TrimSpace(r.FarmingStatus), StatusYes)
}

// Table is an immutable, case-insensitive index of city records.
// Safe for concurrent reads once built.
type Table struct {
	byKey map[string]Record
	order []string
}

// NewTable builds a Table from records. When a city appears more than once
// the first occurrence wins. Records with a blank name are skipped.
func NewTable(records []Record) *Table {
	t := &Table{byKey: make(map[string]Record, len(records))}
	for _, rec := range records {
		key := Key(rec.Name)
		if key == "" {
			continue
		}
		if _, dup := t.byKey[key]; dup {
			continue
		}
		rec.Name = strings.TrimSpace(rec.Name)
		rec.FarmingStatus = strings.TrimSpace(rec.FarmingStatus)
		t.byKey[key] = rec
		t.order = append(t.order, key)
	}
	return t
}

// Key folds a city name into its lookup key.
func Key(name string) string {
	// Casers carry state; a fresh one per call keeps Key safe for concurrent use.
	return cases.Fold().String(strings.TrimSpace(name))
}

// Lookup returns the record for name, matched case-insensitively.
func (t *Table) Lookup(name string) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	rec, ok := t.byKey[Key(name)]
	return rec, ok
}

// Eligible returns (eligible, found) for name.
func (t *Table) Eligible(name string) (eligible bool, found bool) {
	rec, ok := t.Lookup(name)
	if !ok {
		return false, false
	}
	return rec.Eligible(), true
}

// Len returns the number of distinct cities.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byKey)
}

// Records returns all records sorted by name.
func (t *Table) Records() []Record {
	if t == nil {
		return nil
	}
	out := make([]Record, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.byKey[key])
	}
	sort.Slice(out, func(i, j int) bool { return Key(out[i].Name) < Key(out[j].Name) })
	return out
}
