// Package propagator implements §4.4: the recursive engine that, given a
// candidate source row, closes over its foreign-key parents, buffers it for
// insertion, and optionally expands to its children. Structurally grounded
// on the archiver's BFS discovery loop
// (other_examples/580646a3_dbsmedya-goarchive__internal-archiver-discovery.go.go)
// but reshaped into a bounded-depth per-row recursion: a single global
// visited set would not give the per-table presence semantics or the
// priority-exempt child caps this component needs.
package propagator

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
	"github.com/dbsubsetter/subsetter/internal/subsetter/events"
	"github.com/dbsubsetter/subsetter/internal/subsetter/presence"
	"github.com/dbsubsetter/subsetter/internal/subsetter/selector"
)

// Config tunes the propagator's batching and child-expansion behavior.
type Config struct {
	// FlushSize is the per-table insertion buffer size before a bulk
	// INSERT is issued.
	FlushSize int
	// ChildrenLimit caps how many child rows a non-priority row's
	// expansion fetches per incoming FK edge per recursion level.
	ChildrenLimit int
	// DefaultDepthBudget is a suggested child-expansion depth. The
	// propagator itself does not read it; callers pass a depth to each
	// Propagate call (the coordinator uses its own MainLoopDepthBudget).
	DefaultDepthBudget int
}

// DefaultConfig returns the spec's suggested small defaults.
func DefaultConfig() Config {
	return Config{FlushSize: 1000, ChildrenLimit: 3, DefaultDepthBudget: 3}
}

// unboundedChildLimit is the effective per-edge fetch cap for priority rows:
// priority descendants are exempt from the per-parent children cap and are
// bounded only by the depth budget (§9 design notes, scenario 4).
const unboundedChildLimit = math.MaxInt32

// Propagator is the central recursive routine of §4.4.
type Propagator struct {
	model    *dbmodel.Model
	presence *presence.Index
	selector *selector.Selector
	target   driver.Driver
	events   *events.Bus
	logger   *slog.Logger
	cfg      Config

	sourceDriverName string
	targetDriverName string

	buffers map[dbmodel.TableKey][]dbmodel.Row

	// visiting holds table+key pairs currently partway through Propagate
	// (presence-check passed, not yet committed). A direct FK cycle can
	// recurse back into a row still being resolved further up the same
	// call stack; without this guard that recursion would loop forever,
	// since presence itself isn't marked until step 3 commits the row.
	visiting map[string]struct{}
}

// New returns a Propagator wired against model/presence/selector/target.
func New(model *dbmodel.Model, idx *presence.Index, sel *selector.Selector, target driver.Driver, bus *events.Bus, logger *slog.Logger, cfg Config, sourceDriverName, targetDriverName string) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{
		model:            model,
		presence:         idx,
		selector:         sel,
		target:           target,
		events:           bus,
		logger:           logger,
		cfg:              cfg,
		sourceDriverName: sourceDriverName,
		targetDriverName: targetDriverName,
		buffers:          make(map[dbmodel.TableKey][]dbmodel.Row),
		visiting:         make(map[string]struct{}),
	}
}

// Propagate implements the five pseudocode steps of §4.4 for a single
// candidate row r from table t.
func (p *Propagator) Propagate(ctx context.Context, t *dbmodel.Table, r dbmodel.Row, priority bool, depthBudget int) error {
	var visitKey string
	// Step 1: presence short-circuit (P9, and the cycle-termination
	// argument of §9 design notes).
	if t.HasPK() {
		key, ok := r.Key(t.PK)
		if ok {
			if p.presence.Contains(t.Key, key) {
				return nil
			}
			visitKey = t.Key.String() + "\x1f" + key.String()
			if _, inProgress := p.visiting[visitKey]; inProgress {
				// A direct FK cycle looped back to a row still being
				// resolved further up this call stack. The ancestor call
				// will commit it; nothing more to do here.
				return nil
			}
			p.visiting[visitKey] = struct{}{}
			defer delete(p.visiting, visitKey)
		}
	}

	// Step 2: parent closure.
	for _, fk := range t.Outgoing {
		if err := p.closeParent(ctx, t, r, fk, priority); err != nil {
			if isUnreferentiable(err) {
				p.logger.Warn("dropping row: parent unreferentiable",
					"table", t.Key.String(), "fk", fk.Name, "parent", fk.Parent.String())
				return nil
			}
			return err
		}
	}

	// Step 3: insert.
	if err := p.commit(ctx, t, r, priority); err != nil {
		return err
	}

	// Step 4: child expansion.
	if depthBudget > 0 {
		if err := p.expandChildren(ctx, t, r, priority, depthBudget); err != nil {
			return err
		}
	}

	return nil
}

// errUnreferentiable marks a parent-closure failure where the source no
// longer contains the referenced parent row (§4.4 step 2, §7 MissingParent).
type errUnreferentiable struct {
	fk dbmodel.ForeignKey
}

func (e *errUnreferentiable) Error() string {
	return fmt.Sprintf("propagator: parent %s unreferentiable via %s", e.fk.Parent, e.fk.Name)
}

func isUnreferentiable(err error) bool {
	_, ok := err.(*errUnreferentiable)
	return ok
}

// closeParent resolves fk's parent row, fetching and recursively
// propagating it (child-budget = 0) if not already present.
func (p *Propagator) closeParent(ctx context.Context, t *dbmodel.Table, r dbmodel.Row, fk dbmodel.ForeignKey, priority bool) error {
	tuple, complete := columnTuple(r, fk.Constrained)
	if !complete {
		// A null FK column means this edge simply doesn't apply to r.
		return nil
	}

	parent, ok := p.model.Table(fk.Parent)
	if !ok {
		return fmt.Errorf("propagator: unknown parent table %s for fk %s", fk.Parent, fk.Name)
	}

	referredKey := dbmodel.NewKeyTuple(tuple.Values())
	if p.presence.Contains(fk.Parent, referredKey) {
		return nil
	}

	parentRow, found, err := p.selector.FetchByKey(ctx, parent, referredKey)
	if err != nil {
		return fmt.Errorf("propagator: fetch parent %s: %w", fk.Parent, err)
	}
	if !found {
		return &errUnreferentiable{fk: fk}
	}

	// Parent fetches never themselves trigger child expansion (child
	// budget = 0), to prevent exponential fan-out back down other edges.
	return p.Propagate(ctx, parent, parentRow, priority, 0)
}

// expandChildren walks every incoming FK edge C -> T and recursively
// propagates a bounded number of child rows.
func (p *Propagator) expandChildren(ctx context.Context, t *dbmodel.Table, r dbmodel.Row, priority bool, depthBudget int) error {
	referredFromRow := func(fk dbmodel.ForeignKey) (dbmodel.KeyTuple, bool) {
		return columnTuple(r, fk.Referred)
	}

	for _, fk := range t.Incoming {
		tuple, ok := referredFromRow(fk)
		if !ok {
			continue
		}
		child, ok := p.model.Table(fk.Child)
		if !ok {
			continue
		}

		limit := p.cfg.ChildrenLimit
		if priority {
			limit = unboundedChildLimit
		}

		children, err := p.selector.FetchChildren(ctx, fk, tuple, limit)
		if err != nil {
			return fmt.Errorf("propagator: fetch children %s: %w", fk.Child, err)
		}

		for _, childRow := range children {
			// Priority propagates downward indefinitely: a forced or
			// full-table ancestor's descendants stay priority too.
			if err := p.Propagate(ctx, child, childRow, priority, depthBudget-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// commit buffers r for insertion, updates presence, the table's copied
// count, and publishes the row-added event (§4.4 step 3).
func (p *Propagator) commit(ctx context.Context, t *dbmodel.Table, r dbmodel.Row, priority bool) error {
	if t.HasPK() {
		key, ok := r.Key(t.PK)
		if !ok {
			return fmt.Errorf("propagator: row missing declared pk columns for %s", t.Key)
		}
		p.presence.Add(t.Key, key)
	} else {
		p.presence.AddUnkeyed(t.Key)
	}
	t.IncrementCopied()

	for _, col := range t.Columns {
		if !col.IsAutoGenerated() {
			continue
		}
		v, ok := r.Get(col.Name)
		if !ok || v == nil {
			continue
		}
		if n, ok := asInt64(v); ok {
			t.RecordSequenceValue(col.Name, n)
		}
	}

	p.buffers[t.Key] = append(p.buffers[t.Key], r)
	if len(p.buffers[t.Key]) >= p.cfg.FlushSize {
		if err := p.Flush(ctx, t); err != nil {
			return err
		}
	}

	if p.events != nil {
		p.events.Publish(events.RowAdded{
			SourceDriver: p.sourceDriverName,
			TargetDriver: p.targetDriverName,
			SourceRow:    r,
			TargetTable:  t.Key,
			Prioritized:  priority,
		})
	}
	return nil
}

// Flush sends t's pending buffer as a bulk INSERT. On failure, it retries
// row-by-row to isolate the offending row (logged and skipped), letting the
// rest of the batch through — per §4.4's buffered-insertion failure policy.
func (p *Propagator) Flush(ctx context.Context, t *dbmodel.Table) error {
	rows := p.buffers[t.Key]
	if len(rows) == 0 {
		return nil
	}
	delete(p.buffers, t.Key)

	columns := columnNames(t.Columns)
	if err := p.target.InsertBatch(ctx, t.Key, columns, rows); err != nil {
		p.logger.Warn("batch insert failed, retrying row by row", "table", t.Key.String(), "error", err)
		for _, row := range rows {
			if err := p.target.InsertBatch(ctx, t.Key, columns, []dbmodel.Row{row}); err != nil {
				p.logger.Warn("dropping row after isolated insert failure", "table", t.Key.String(), "error", err)
			}
		}
	}
	return nil
}

// FlushAll flushes every table with a non-empty pending buffer, used at
// finalization and on graceful shutdown.
func (p *Propagator) FlushAll(ctx context.Context) error {
	for key := range p.buffers {
		t, ok := p.model.Table(key)
		if !ok {
			continue
		}
		if err := p.Flush(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func columnTuple(r dbmodel.Row, columns []string) (dbmodel.KeyTuple, bool) {
	values := make([]any, len(columns))
	for i, c := range columns {
		v, ok := r.Get(c)
		if !ok || v == nil {
			return dbmodel.KeyTuple{}, false
		}
		values[i] = v
	}
	return dbmodel.NewKeyTuple(values), true
}

func columnNames(cols []dbmodel.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// asInt64 widens the scalar types a driver may hand back for an integer
// auto-generated column into int64, for sequence-advance tracking.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
