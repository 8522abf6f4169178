// Package coordinator implements §4.5: the top-level run loop. It drains
// forced rows and full tables first, then repeatedly selects the
// least-complete table and propagates a batch of candidates from it until
// every selected table is saturated or has met its target. Grounded on the
// teacher's orchestration style in cmd/schema-registry/main.go (construct
// components, run to completion, handle shutdown signals) rather than any
// single pack file — this control flow has no direct analog in the pack.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
	"github.com/dbsubsetter/subsetter/internal/subsetter/propagator"
	"github.com/dbsubsetter/subsetter/internal/subsetter/selector"
	"github.com/dbsubsetter/subsetter/internal/subsetter/subsetterrors"
)

// ForcedRow names one --force=T:pk directive (§4.5 step 1).
type ForcedRow struct {
	Table dbmodel.TableKey
	Key   dbmodel.KeyTuple
}

// Config tunes the main loop's batching.
type Config struct {
	// MainLoopBatchSize bounds how many candidate rows are drawn from the
	// selected table per iteration (the "bounded constant" of step 3b).
	MainLoopBatchSize int
	// FullTableDepthBudget is the child-expansion depth used while
	// iterating --full-table rows (and forced rows).
	FullTableDepthBudget int
	// MainLoopDepthBudget is the child-expansion depth used for
	// non-priority main-loop candidates (§4.5 step 3c's default small
	// budget, e.g. 3).
	MainLoopDepthBudget int
}

// DefaultConfig returns the spec's suggested small defaults.
func DefaultConfig() Config {
	return Config{MainLoopBatchSize: 200, FullTableDepthBudget: 3, MainLoopDepthBudget: 3}
}

// Coordinator runs a complete subsetting pass over model.
type Coordinator struct {
	model  *dbmodel.Model
	prop   *propagator.Propagator
	sel    *selector.Selector
	target driver.Driver
	logger *slog.Logger
	cfg    Config

	forcedRows []ForcedRow
	fullTables []dbmodel.TableKey

	saturated map[dbmodel.TableKey]bool
}

// New returns a Coordinator ready to Run.
func New(model *dbmodel.Model, prop *propagator.Propagator, sel *selector.Selector, target driver.Driver, logger *slog.Logger, cfg Config, forcedRows []ForcedRow, fullTables []dbmodel.TableKey) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		model:      model,
		prop:       prop,
		sel:        sel,
		target:     target,
		logger:     logger,
		cfg:        cfg,
		forcedRows: forcedRows,
		fullTables: fullTables,
		saturated:  make(map[dbmodel.TableKey]bool),
	}
}

// Run executes the full pass: forced rows, full tables, the main loop, then
// finalization. It returns early (without finalizing) if ctx is canceled,
// matching §5's best-effort-flush-and-skip-sequence-advance shutdown policy.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.runForcedRows(ctx); err != nil {
		return err
	}
	if err := c.runFullTables(ctx); err != nil {
		return err
	}
	if err := c.runMainLoop(ctx); err != nil {
		return err
	}

	if ctx.Err() != nil {
		c.logger.Warn("run canceled before finalization; flushing best-effort, skipping sequence advance")
		return c.prop.FlushAll(context.Background())
	}
	return c.finalize(ctx)
}

// runForcedRows implements step 1: every --force=T:pk directive is
// propagated with priority=true and the FullTableDepthBudget child-depth
// budget, and must exist in the source (§7 ErrForcedRowNotFound).
func (c *Coordinator) runForcedRows(ctx context.Context) error {
	for _, fr := range c.forcedRows {
		t, ok := c.model.Table(fr.Table)
		if !ok {
			return fmt.Errorf("%w: %s", subsetterrors.ErrConfiguration, fr.Table)
		}
		row, found, err := c.sel.FetchByKey(ctx, t, fr.Key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s key %s", subsetterrors.ErrForcedRowNotFound, fr.Table, fr.Key.String())
		}
		if err := c.prop.Propagate(ctx, t, row, true, c.cfg.FullTableDepthBudget); err != nil {
			return err
		}
	}
	return nil
}

// runFullTables implements step 2: every --full-table T has all its source
// rows propagated with priority=true.
func (c *Coordinator) runFullTables(ctx context.Context) error {
	for _, key := range c.fullTables {
		t, ok := c.model.Table(key)
		if !ok {
			return fmt.Errorf("%w: %s", subsetterrors.ErrConfiguration, key)
		}
		offset := 0
		const pageSize = 500
		for {
			rows, err := c.sel.FetchPage(ctx, t, offset, pageSize)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				break
			}
			for _, row := range rows {
				if err := c.prop.Propagate(ctx, t, row, true, c.cfg.FullTableDepthBudget); err != nil {
					return err
				}
			}
			if len(rows) < pageSize {
				break
			}
			offset += pageSize
		}
	}
	return nil
}

// runMainLoop implements step 3: repeatedly select the least-complete
// selected table and propagate a batch of candidates, until every table is
// saturated or at target.
func (c *Coordinator) runMainLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		t := c.selectNextTable()
		if t == nil {
			return nil
		}

		gap := t.TargetCount - t.CopiedCount()
		batchSize := int(gap)
		if batchSize <= 0 || batchSize > c.cfg.MainLoopBatchSize {
			batchSize = c.cfg.MainLoopBatchSize
		}

		candidates, err := c.sel.Sample(ctx, t, batchSize)
		if err != nil {
			return err
		}

		before := t.CopiedCount()
		for _, row := range candidates {
			if err := c.prop.Propagate(ctx, t, row, false, c.cfg.MainLoopDepthBudget); err != nil {
				return err
			}
		}
		gainedNone := t.CopiedCount() == before

		if gainedNone && c.sourceExhausted(t) {
			c.saturated[t.Key] = true
			c.logger.Info("table saturated", "table", t.Key.String(), "copied", t.CopiedCount(), "target", t.TargetCount)
		}
	}
}

// Saturated returns the tables the main loop has marked exhausted so far.
// Safe to call only from within the same goroutine driving Run (e.g. a
// row-added subscriber), since the engine keeps no locking around this map.
func (c *Coordinator) Saturated() []dbmodel.TableKey {
	keys := make([]dbmodel.TableKey, 0, len(c.saturated))
	for k, ok := range c.saturated {
		if ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// sourceExhausted reports whether the table's source row count has been
// fully sampled, approximated here by comparing copied count against the
// source's row count (a real driver tracks exhaustion via repeated empty
// samples; fakedriver and the live drivers both converge once copied
// reaches source count).
func (c *Coordinator) sourceExhausted(t *dbmodel.Table) bool {
	return t.CopiedCount() >= t.SourceRowCount
}

// selectNextTable returns the unsaturated, below-target selected table with
// the lowest completeness score, breaking ties by name (§4.5 step 3a).
func (c *Coordinator) selectNextTable() *dbmodel.Table {
	var best *dbmodel.Table
	for _, t := range c.model.SelectedTables() {
		if c.saturated[t.Key] {
			continue
		}
		if t.TargetCount <= 0 || t.CopiedCount() >= t.TargetCount {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		if t.CompletenessScore() < best.CompletenessScore() {
			best = t
			continue
		}
		if t.CompletenessScore() == best.CompletenessScore() && t.Key.String() < best.Key.String() {
			best = t
		}
	}
	return best
}

// finalize implements step 4: advance auto-generated-key sequences for
// every selected table with sequence-backed columns, in an order where
// parents are advanced before dependents (topological order is sufficient
// but not required here since sequence advance per table is independent).
//
// Rows are sampled out of PK order (P7), so the number of rows copied is not
// the highest key value inserted; the propagator tracks that max per column
// at commit time (dbmodel.Table.RecordSequenceValue), and finalization
// advances each sequence past it.
func (c *Coordinator) finalize(ctx context.Context) error {
	if err := c.prop.FlushAll(ctx); err != nil {
		return err
	}

	for _, t := range c.model.TopologicalOrder() {
		for _, col := range t.Columns {
			if !col.IsAutoGenerated() {
				continue
			}
			max, ok := t.MaxSequenceValue(col.Name)
			if !ok {
				continue
			}
			if err := c.target.AdvanceSequence(ctx, t.Key, col, max+1); err != nil {
				return fmt.Errorf("coordinator: advance sequence %s.%s: %w", t.Key, col.Name, err)
			}
		}
	}
	return nil
}
