package dbmodel

import (
	"path"
	"sort"
	"strings"
)

// Model is the full introspected constraint graph: every table the driver
// reported in a requested schema, whether or not it was selected for
// copying, plus the FK edges between them (real and user-supplied logical).
// Built once at startup and never mutated structurally afterward — only
// per-table copied counters change as the run progresses.
type Model struct {
	tables map[TableKey]*Table
	order  []TableKey // insertion order, for deterministic iteration
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{tables: make(map[TableKey]*Table)}
}

// AddTable registers a table with the model. Panics on duplicate keys,
// which would indicate a driver-introspection bug, not a user error.
func (m *Model) AddTable(t *Table) {
	if _, exists := m.tables[t.Key]; exists {
		panic("dbmodel: duplicate table " + t.Key.String())
	}
	m.tables[t.Key] = t
	m.order = append(m.order, t.Key)
}

// Table looks up a table by key.
func (m *Model) Table(key TableKey) (*Table, bool) {
	t, ok := m.tables[key]
	return t, ok
}

// Tables returns all tables in insertion (introspection) order.
func (m *Model) Tables() []*Table {
	out := make([]*Table, len(m.order))
	for i, k := range m.order {
		out[i] = m.tables[k]
	}
	return out
}

// SelectedTables returns only the tables eligible for insertion, in
// insertion order.
func (m *Model) SelectedTables() []*Table {
	var out []*Table
	for _, k := range m.order {
		if t := m.tables[k]; t.Selected {
			out = append(out, t)
		}
	}
	return out
}

// AddForeignKey wires a ForeignKey edge into both endpoints' Outgoing/
// Incoming lists. Both tables must already be registered (possibly as
// unselected-but-visible).
func (m *Model) AddForeignKey(fk ForeignKey) bool {
	child, ok := m.tables[fk.Child]
	if !ok {
		return false
	}
	parent, ok := m.tables[fk.Parent]
	if !ok {
		return false
	}
	child.Outgoing = append(child.Outgoing, fk)
	parent.Incoming = append(parent.Incoming, fk)
	return true
}

// MatchesAny reports whether name matches at least one glob pattern ("*"
// wildcards only). Patterns may be schema-qualified ("public.orders") or
// bare ("orders"), in which case they match any schema.
func MatchesAny(key TableKey, patterns []string) bool {
	for _, p := range patterns {
		if matchesPattern(key, p) {
			return true
		}
	}
	return false
}

func matchesPattern(key TableKey, pattern string) bool {
	if strings.Contains(pattern, ".") {
		ok, _ := path.Match(pattern, key.String())
		return ok
	}
	ok, _ := path.Match(pattern, key.Name)
	return ok
}

// TopologicalOrder returns the selected tables ordered so that every
// table referenced by an outgoing FK appears before the table that
// declares it (parents before children). Cycles are broken deterministically
// by table name, matching the convention used for sequence creation versus
// constraint creation in most RDBMS dump tools: table creation order doesn't
// matter once constraints are applied separately. Used only for finalization
// (sequence advance) and --full-table iteration order, never for the main
// random-selection loop.
func (m *Model) TopologicalOrder() []*Table {
	selected := m.SelectedTables()
	if len(selected) <= 1 {
		return selected
	}

	inDegree := make(map[TableKey]int, len(selected))
	children := make(map[TableKey][]TableKey, len(selected))
	present := make(map[TableKey]*Table, len(selected))
	for _, t := range selected {
		inDegree[t.Key] = 0
		present[t.Key] = t
	}
	for _, t := range selected {
		for _, fk := range t.Outgoing {
			if _, ok := present[fk.Parent]; !ok || fk.Parent == t.Key {
				continue
			}
			children[fk.Parent] = append(children[fk.Parent], t.Key)
			inDegree[t.Key]++
		}
	}

	var queue []TableKey
	for k, d := range inDegree {
		if d == 0 {
			queue = append(queue, k)
		}
	}
	sortKeys(queue)

	processed := make(map[TableKey]bool, len(selected))
	var result []*Table
	for len(result) < len(selected) {
		if len(queue) == 0 {
			// Cycle: pick the lowest-named unprocessed table to break it.
			next := lowestUnprocessed(selected, processed)
			queue = append(queue, next)
		}
		cur := queue[0]
		queue = queue[1:]
		if processed[cur] {
			continue
		}
		processed[cur] = true
		result = append(result, present[cur])

		var next []TableKey
		for _, c := range children[cur] {
			inDegree[c]--
			if inDegree[c] <= 0 && !processed[c] {
				next = append(next, c)
			}
		}
		sortKeys(next)
		queue = append(queue, next...)
		sortKeys(queue)
	}
	return result
}

func lowestUnprocessed(tables []*Table, processed map[TableKey]bool) TableKey {
	var keys []TableKey
	for _, t := range tables {
		if !processed[t.Key] {
			keys = append(keys, t.Key)
		}
	}
	sortKeys(keys)
	return keys[0]
}

func sortKeys(keys []TableKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
