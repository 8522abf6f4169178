package dbmodel

import (
	"fmt"
	"math"
)

// TableKey identifies a table by its schema-qualified name.
type TableKey struct {
	Schema string
	Name   string
}

func (k TableKey) String() string {
	if k.Schema == "" {
		return k.Name
	}
	return fmt.Sprintf("%s.%s", k.Schema, k.Name)
}

// ForeignKey is a directed edge from a child table to the parent table it
// refers to. Constrained and Referred column lists are ordered and of equal
// length. A ForeignKey may be real (from the catalog) or logical (from user
// config, §4.1) — both are treated identically once built.
type ForeignKey struct {
	Name        string
	Child       TableKey
	Parent      TableKey
	Constrained []string // columns in Child
	Referred    []string // columns in Parent, same order as Constrained
}

// Table is a selected or merely-visible table in the schema model. Selected
// tables are ones that matched the include/exclude rules and are eligible
// for insertion; visible-but-unselected tables are still traversed for FK
// purposes, and a selected child's parent closure copies the rows it
// references from an unselected parent table into the target.
type Table struct {
	Key     TableKey
	Columns []Column
	PK      []string // ordered primary-key column names; may be empty (no stable key)

	// Selected is false for tables that exist in the schema but were
	// excluded by --table/--exclude-table; they are never sampled or
	// filled on their own, and receive rows only when parent closure
	// pulls a row some copied child references.
	Selected bool

	// Outgoing are this table's FK edges where it is the child (its
	// columns reference a parent). Incoming are edges where it is the
	// parent (other tables' columns reference it).
	Outgoing []ForeignKey
	Incoming []ForeignKey

	SourceRowCount int64

	// Prioritized tables (via --full-table, or as a forced row's
	// descendant) target their full source row count and are exempt from
	// per-parent child caps and target-count overshoot checks.
	Prioritized bool

	// TargetCount is the computed target row count (§4.1). 0 for
	// unselected tables.
	TargetCount int64

	// copiedCount tracks rows committed (buffered) into the target so far;
	// mutated only by the coordinator/propagator via IncrementCopied.
	copiedCount int64

	// maxKeyByColumn tracks, per auto-generated column, the highest value
	// seen among rows committed so far. Source rows are sampled out of PK
	// order, so this is not copiedCount and must be tracked independently
	// for finalization to advance a sequence past every inserted value (I4).
	maxKeyByColumn map[string]int64
}

// HasPK reports whether the table has a declared (possibly composite)
// primary key. PK-less tables are always-insertable (§4.3) and cannot be
// referenced by a foreign key.
func (t *Table) HasPK() bool { return len(t.PK) > 0 }

// CopiedCount returns the number of rows committed into the target so far.
func (t *Table) CopiedCount() int64 { return t.copiedCount }

// IncrementCopied records one more row committed into the target.
func (t *Table) IncrementCopied() { t.copiedCount++ }

// RecordSequenceValue updates the observed maximum for an auto-generated
// column. Called once per committed row from an auto-generated column (I4).
func (t *Table) RecordSequenceValue(column string, value int64) {
	if t.maxKeyByColumn == nil {
		t.maxKeyByColumn = make(map[string]int64)
	}
	if cur, ok := t.maxKeyByColumn[column]; !ok || value > cur {
		t.maxKeyByColumn[column] = value
	}
}

// MaxSequenceValue returns the highest value recorded for an auto-generated
// column via RecordSequenceValue. ok is false if no committed row carried a
// non-NULL value for it (e.g. the table had zero rows copied).
func (t *Table) MaxSequenceValue(column string) (int64, bool) {
	v, ok := t.maxKeyByColumn[column]
	return v, ok
}

// CompletenessScore is copied/target, used by the coordinator to pick the
// next table to draw from (§4.1, §9 open question (c)). A zero target count
// scores +Inf, and the main loop never selects such a table. A prioritized
// table that has reached its target scores 1-1e-9 instead of 1, so priority
// work always looks less complete than finished non-priority work and is
// preferred by the coordinator.
func (t *Table) CompletenessScore() float64 {
	if t.TargetCount <= 0 {
		return math.Inf(1)
	}
	score := float64(t.copiedCount) / float64(t.TargetCount)
	if t.Prioritized && score >= 1 {
		// Clamp so a fully-satisfied prioritized table still sorts as
		// less complete than a finished non-prioritized one: priority
		// work that somehow reaches the main loop stays preferred.
		return 1 - 1e-9
	}
	return score
}
