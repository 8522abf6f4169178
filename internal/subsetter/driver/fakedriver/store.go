// Package fakedriver implements driver.Driver entirely in memory, grounded
// on the map-of-maps shape of the teacher's internal/storage/memory store,
// retargeted from schema/subject records onto table rows. It exists purely
// for tests: the propagator and coordinator exercise it as both a seeded
// source and an empty target without a live database.
package fakedriver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
)

type table struct {
	columns []dbmodel.Column
	pk      []string
	rows    []dbmodel.Row
	byKey   map[string]int // KeyTuple string -> index into rows, for PK'd tables
	counter int64
}

// Store is an in-memory driver.Driver implementation. The zero value is not
// usable; construct with New.
type Store struct {
	mu       sync.Mutex
	model    *dbmodel.Model
	tables   map[dbmodel.TableKey]*table
	rng      *rand.Rand
	inserted map[dbmodel.TableKey][]dbmodel.Row // rows accumulated by InsertBatch, for assertions
	advanced map[dbmodel.TableKey]map[string]int64 // last AdvanceSequence min per table/column, for assertions
}

// New returns an empty Store. Call SeedTable to populate it as a source, or
// use it bare as an empty target.
func New(seed int64) *Store {
	return &Store{
		tables:   make(map[dbmodel.TableKey]*table),
		rng:      rand.New(rand.NewSource(seed)),
		inserted: make(map[dbmodel.TableKey][]dbmodel.Row),
		advanced: make(map[dbmodel.TableKey]map[string]int64),
	}
}

// SeedTable registers a table's schema and rows so Introspect/fetch methods
// can see it. fks is the set of foreign keys whose Child equals key.
func (s *Store) SeedTable(key dbmodel.TableKey, columns []dbmodel.Column, pk []string, rows []dbmodel.Row, fks []dbmodel.ForeignKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &table{columns: columns, pk: pk, rows: append([]dbmodel.Row(nil), rows...)}
	if len(pk) > 0 {
		t.byKey = make(map[string]int, len(rows))
		for i, r := range rows {
			if k, ok := r.Key(pk); ok {
				t.byKey[k.String()] = i
			}
		}
	}
	s.tables[key] = t

	if s.model == nil {
		s.model = dbmodel.NewModel()
	}
	s.model.AddTable(&dbmodel.Table{
		Key:            key,
		Columns:        columns,
		PK:             pk,
		SourceRowCount: int64(len(rows)),
	})
	for _, fk := range fks {
		s.model.AddForeignKey(fk)
	}
}

// Introspect returns the model built up by SeedTable calls, filtered to the
// requested schemas when non-empty.
func (s *Store) Introspect(ctx context.Context, schemas []string) (*dbmodel.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.model == nil {
		return dbmodel.NewModel(), nil
	}
	if len(schemas) == 0 {
		return s.model, nil
	}
	filtered := dbmodel.NewModel()
	for _, t := range s.model.Tables() {
		for _, sc := range schemas {
			if t.Key.Schema == sc {
				filtered.AddTable(t)
				break
			}
		}
	}
	return filtered, nil
}

// RowCount returns the number of rows currently held for table.
func (s *Store) RowCount(ctx context.Context, key dbmodel.TableKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key]
	if !ok {
		return 0, nil
	}
	return int64(len(t.rows)), nil
}

// NumericPKRange scans the seeded rows for a single numeric PK column's
// extremes; ok is false for composite/non-numeric/empty tables.
func (s *Store) NumericPKRange(ctx context.Context, key dbmodel.TableKey, pkColumn string) (int64, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key]
	if !ok || len(t.pk) != 1 || len(t.rows) == 0 {
		return 0, 0, false, nil
	}
	var min, max int64
	first := true
	for _, r := range t.rows {
		v, ok := r.Get(pkColumn)
		if !ok {
			continue
		}
		n, ok := toInt64(v)
		if !ok {
			return 0, 0, false, nil
		}
		if first {
			min, max = n, n
			first = false
			continue
		}
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if first {
		return 0, 0, false, nil
	}
	return min, max, true, nil
}

// FetchByPKValues returns the rows whose pkColumn matches one of values.
func (s *Store) FetchByPKValues(ctx context.Context, key dbmodel.TableKey, pkColumn string, values []int64) ([]dbmodel.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key]
	if !ok {
		return nil, nil
	}
	want := make(map[int64]struct{}, len(values))
	for _, v := range values {
		want[v] = struct{}{}
	}
	var out []dbmodel.Row
	for _, r := range t.rows {
		v, ok := r.Get(pkColumn)
		if !ok {
			continue
		}
		n, ok := toInt64(v)
		if !ok {
			continue
		}
		if _, hit := want[n]; hit {
			out = append(out, r)
		}
	}
	return out, nil
}

// FetchRandomOrder returns up to limit rows from table in a shuffled order.
func (s *Store) FetchRandomOrder(ctx context.Context, key dbmodel.TableKey, limit int) ([]dbmodel.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key]
	if !ok {
		return nil, nil
	}
	shuffled := append([]dbmodel.Row(nil), t.rows...)
	s.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if limit < len(shuffled) {
		shuffled = shuffled[:limit]
	}
	return shuffled, nil
}

// FetchOrderedScan returns rows[offset:offset+limit] in PK/insertion order.
func (s *Store) FetchOrderedScan(ctx context.Context, key dbmodel.TableKey, offset, limit int) ([]dbmodel.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key]
	if !ok || offset >= len(t.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(t.rows) {
		end = len(t.rows)
	}
	return append([]dbmodel.Row(nil), t.rows[offset:end]...), nil
}

// FetchByKey returns the row matching key under pkColumns, if any.
func (s *Store) FetchByKey(ctx context.Context, tableKey dbmodel.TableKey, pkColumns []string, key dbmodel.KeyTuple) (dbmodel.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableKey]
	if !ok || t.byKey == nil {
		return dbmodel.Row{}, false, nil
	}
	idx, ok := t.byKey[key.String()]
	if !ok {
		return dbmodel.Row{}, false, nil
	}
	return t.rows[idx], true, nil
}

// FetchChildren returns up to fetch.Limit rows whose fetch.Columns equal
// fetch.ParentValue, via a linear scan (fine for test-sized fixtures).
func (s *Store) FetchChildren(ctx context.Context, fetch driver.ChildFetch) ([]dbmodel.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[fetch.Table]
	if !ok {
		return nil, nil
	}
	want := fetch.ParentValue.Values()
	var out []dbmodel.Row
	for _, r := range t.rows {
		if len(out) >= fetch.Limit {
			break
		}
		match := true
		for i, col := range fetch.Columns {
			v, ok := r.Get(col)
			if !ok || fmt.Sprint(v) != fmt.Sprint(want[i]) {
				match = false
				break
			}
		}
		if match {
			out = append(out, r)
		}
	}
	return out, nil
}

// InsertBatch appends rows to the (possibly previously unseeded) target
// table, enforcing no duplicate-PK overwrite semantics beyond what the
// presence index already guarantees the caller won't attempt.
func (s *Store) InsertBatch(ctx context.Context, key dbmodel.TableKey, columns []string, rows []dbmodel.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key]
	if !ok {
		t = &table{byKey: make(map[string]int)}
		s.tables[key] = t
	}
	for _, r := range rows {
		t.rows = append(t.rows, r)
		if len(t.pk) > 0 {
			if k, ok := r.Key(t.pk); ok {
				if t.byKey == nil {
					t.byKey = make(map[string]int)
				}
				t.byKey[k.String()] = len(t.rows) - 1
			}
		}
	}
	s.inserted[key] = append(s.inserted[key], rows...)
	return nil
}

// Inserted returns every row InsertBatch has accumulated for table, in
// insertion order, for test assertions.
func (s *Store) Inserted(key dbmodel.TableKey) []dbmodel.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dbmodel.Row(nil), s.inserted[key]...)
}

// AdvanceSequence is a no-op recorded only for assertions; fakedriver has no
// real sequence objects to bump.
func (s *Store) AdvanceSequence(ctx context.Context, key dbmodel.TableKey, column driver.Column, min int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advanced[key] == nil {
		s.advanced[key] = make(map[string]int64)
	}
	s.advanced[key][column.Name] = min
	return nil
}

// AdvancedTo returns the min value AdvanceSequence was last called with for
// table/column, for test assertions. ok is false if it was never called.
func (s *Store) AdvancedTo(key dbmodel.TableKey, column string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.advanced[key][column]
	return v, ok
}

// QuoteIdentifier returns name unchanged; fakedriver never generates SQL.
func (s *Store) QuoteIdentifier(name string) string { return name }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
