// Package presence implements the per-table set of primary-key tuples
// already copied into the target, guaranteeing at-most-once insertion (I2)
// and answering "do we already have this parent?" in O(1).
package presence

import "github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"

// tableEntry tracks presence for one table. PK-less tables never populate
// keys and instead rely on counter, incremented directly on insert.
type tableEntry struct {
	keys    map[string]struct{}
	counter int64
}

// Index is the presence index for every table in a run. The engine is
// single-threaded (spec §5), so no locking is required — it is owned
// exclusively by the coordinator for the run's duration.
type Index struct {
	tables map[dbmodel.TableKey]*tableEntry
}

// New creates an empty presence index.
func New() *Index {
	return &Index{tables: make(map[dbmodel.TableKey]*tableEntry)}
}

func (idx *Index) entry(table dbmodel.TableKey) *tableEntry {
	e, ok := idx.tables[table]
	if !ok {
		e = &tableEntry{keys: make(map[string]struct{})}
		idx.tables[table] = e
	}
	return e
}

// Contains reports whether the given key tuple has already been added for
// table. Always false for PK-less tables (they have no stable key).
func (idx *Index) Contains(table dbmodel.TableKey, key dbmodel.KeyTuple) bool {
	e, ok := idx.tables[table]
	if !ok {
		return false
	}
	_, found := e.keys[key.String()]
	return found
}

// Add records key as present for table. Idempotent: adding the same key
// twice only inserts it once (callers rely on this for P9), and the
// counter only advances on the first insertion of a given key.
func (idx *Index) Add(table dbmodel.TableKey, key dbmodel.KeyTuple) {
	e := idx.entry(table)
	k := key.String()
	if _, exists := e.keys[k]; exists {
		return
	}
	e.keys[k] = struct{}{}
	e.counter++
}

// AddUnkeyed increments the counter for a PK-less table, where every row is
// always-insertable and membership cannot be checked.
func (idx *Index) AddUnkeyed(table dbmodel.TableKey) {
	idx.entry(table).counter++
}

// Count returns the number of rows recorded present for table, whether
// tracked by keyed set or by the unkeyed counter.
func (idx *Index) Count(table dbmodel.TableKey) int64 {
	e, ok := idx.tables[table]
	if !ok {
		return 0
	}
	return e.counter
}
