// Package selector implements §4.3: drawing a uniform random sample of rows
// from a source table, with numeric-PK range sampling (retry/degrade to
// ordered scan), driver random-order for composite/non-numeric PKs, and the
// targeted single-row and child-edge fetch variants.
package selector

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
)

// maxRangeRetries bounds the range-sampling retry loop before degrading to
// an ordered scan (small or sparse tables make random PK guesses miss
// often; retrying forever would stall the engine).
const maxRangeRetries = 5

// Selector draws candidate rows from a source driver.Driver.
type Selector struct {
	source driver.Driver
	rng    *rand.Rand
}

// New returns a Selector reading from source. rng is the randomness source
// for PK-range guesses; pass rand.New(rand.NewSource(seed)) for
// reproducible tests, or nil for a fresh source seeded from the
// process-global generator.
func New(source driver.Driver, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Selector{source: source, rng: rng}
}

// Sample returns up to k rows drawn uniformly at random from table. The
// caller (propagator) is responsible for filtering out rows already present
// in the target — Sample returns candidates only.
func (s *Selector) Sample(ctx context.Context, t *dbmodel.Table, k int) ([]dbmodel.Row, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(t.PK) == 1 && isNumericColumn(t, t.PK[0]) {
		rows, err := s.sampleNumericRange(ctx, t, k)
		if err != nil {
			return nil, err
		}
		if rows != nil {
			return rows, nil
		}
		// Range sampling declined (empty or unbounded range): fall through
		// to random-order.
	}
	rows, err := s.source.FetchRandomOrder(ctx, t.Key, k)
	if err != nil {
		return nil, fmt.Errorf("selector: random order fetch %s: %w", t.Key, err)
	}
	return rows, nil
}

// sampleNumericRange draws random PK guesses over [min, max] (with
// replacement) until k distinct rows are collected, retrying on misses up to maxRangeRetries times before degrading to an
// ordered LIMIT/OFFSET scan starting at a random offset. Returns nil, nil
// (not an error) when the table has no usable numeric range, signaling the
// caller to fall back to FetchRandomOrder.
func (s *Selector) sampleNumericRange(ctx context.Context, t *dbmodel.Table, k int) ([]dbmodel.Row, error) {
	min, max, ok, err := s.source.NumericPKRange(ctx, t.Key, t.PK[0])
	if err != nil {
		return nil, fmt.Errorf("selector: numeric pk range %s: %w", t.Key, err)
	}
	if !ok {
		return nil, nil
	}
	span := max - min + 1
	if span <= 0 {
		return nil, nil
	}

	collected := make(map[int64]dbmodel.Row)
	for attempt := 0; attempt < maxRangeRetries && int64(len(collected)) < int64(k) && int64(len(collected)) < span; attempt++ {
		need := k - len(collected)
		guesses := s.guessValues(min, max, need)
		rows, err := s.source.FetchByPKValues(ctx, t.Key, t.PK[0], guesses)
		if err != nil {
			return nil, fmt.Errorf("selector: fetch by pk values %s: %w", t.Key, err)
		}
		for _, r := range rows {
			v, ok := r.Get(t.PK[0])
			if !ok {
				continue
			}
			n, ok := toInt64(v)
			if !ok {
				continue
			}
			collected[n] = r
		}
	}

	if len(collected) >= k || int64(len(collected)) >= span {
		out := make([]dbmodel.Row, 0, len(collected))
		for _, r := range collected {
			out = append(out, r)
		}
		return out, nil
	}

	// Too many misses: the table is small or sparse relative to its key
	// range. Degrade to an ordered scan from a random starting offset.
	offset := 0
	if span > int64(k) {
		offset = s.rng.Intn(int(span - int64(k)))
	}
	scanned, err := s.source.FetchOrderedScan(ctx, t.Key, offset, k)
	if err != nil {
		return nil, fmt.Errorf("selector: ordered scan %s: %w", t.Key, err)
	}
	for _, r := range scanned {
		v, ok := r.Get(t.PK[0])
		if !ok {
			continue
		}
		if n, ok := toInt64(v); ok {
			collected[n] = r
		}
	}
	out := make([]dbmodel.Row, 0, len(collected))
	for _, r := range collected {
		out = append(out, r)
	}
	return out, nil
}

func (s *Selector) guessValues(min, max int64, n int) []int64 {
	span := max - min + 1
	guesses := make([]int64, n)
	for i := range guesses {
		guesses[i] = min + s.rng.Int63n(span)
	}
	return guesses
}

// FetchPage returns rows[offset:offset+limit] from table in stable order,
// used to iterate a --full-table selection page by page.
func (s *Selector) FetchPage(ctx context.Context, t *dbmodel.Table, offset, limit int) ([]dbmodel.Row, error) {
	rows, err := s.source.FetchOrderedScan(ctx, t.Key, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("selector: fetch page %s: %w", t.Key, err)
	}
	return rows, nil
}

// FetchByKey returns the single row matching key, used for forced rows and
// parent-resolution lookups (§4.4 step 2).
func (s *Selector) FetchByKey(ctx context.Context, t *dbmodel.Table, key dbmodel.KeyTuple) (dbmodel.Row, bool, error) {
	row, ok, err := s.source.FetchByKey(ctx, t.Key, t.PK, key)
	if err != nil {
		return dbmodel.Row{}, false, fmt.Errorf("selector: fetch by key %s: %w", t.Key, err)
	}
	return row, ok, nil
}

// FetchChildren returns up to limit rows of the child table across fk whose
// constrained columns equal parentValue (§4.4 step 4).
func (s *Selector) FetchChildren(ctx context.Context, fk dbmodel.ForeignKey, parentValue dbmodel.KeyTuple, limit int) ([]dbmodel.Row, error) {
	rows, err := s.source.FetchChildren(ctx, driver.ChildFetch{
		Table:       fk.Child,
		Columns:     fk.Constrained,
		ParentValue: parentValue,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("selector: fetch children %s: %w", fk.Child, err)
	}
	return rows, nil
}

func isNumericColumn(t *dbmodel.Table, name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return c.Type == dbmodel.ColumnTypeNumeric
		}
	}
	return false
}

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
