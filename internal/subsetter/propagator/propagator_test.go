package propagator_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver/fakedriver"
	"github.com/dbsubsetter/subsetter/internal/subsetter/events"
	"github.com/dbsubsetter/subsetter/internal/subsetter/presence"
	"github.com/dbsubsetter/subsetter/internal/subsetter/propagator"
	"github.com/dbsubsetter/subsetter/internal/subsetter/selector"
)

func parentChildModel() (*fakedriver.Store, *dbmodel.Model) {
	src := fakedriver.New(1)

	parentKey := dbmodel.TableKey{Name: "parent"}
	childKey := dbmodel.TableKey{Name: "child"}

	parentCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}}
	var parentRows []dbmodel.Row
	for i := 1; i <= 10; i++ {
		parentRows = append(parentRows, dbmodel.NewRow([]string{"id"}, []any{int64(i)}))
	}

	childCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "parent_id", Type: dbmodel.ColumnTypeNumeric}}
	var childRows []dbmodel.Row
	for i := 1; i <= 100; i++ {
		childRows = append(childRows, dbmodel.NewRow([]string{"id", "parent_id"}, []any{int64(i), int64((i % 10) + 1)}))
	}

	fk := dbmodel.ForeignKey{Name: "child_parent_fk", Child: childKey, Parent: parentKey, Constrained: []string{"parent_id"}, Referred: []string{"id"}}

	src.SeedTable(parentKey, parentCols, []string{"id"}, parentRows, nil)
	src.SeedTable(childKey, childCols, []string{"id"}, childRows, []dbmodel.ForeignKey{fk})

	model := dbmodel.NewModel()
	model.AddTable(&dbmodel.Table{Key: parentKey, Columns: parentCols, PK: []string{"id"}, Selected: true, SourceRowCount: 10, TargetCount: 10})
	model.AddTable(&dbmodel.Table{Key: childKey, Columns: childCols, PK: []string{"id"}, Selected: true, SourceRowCount: 100, TargetCount: 20})
	model.AddForeignKey(fk)

	return src, model
}

func newPropagator(t *testing.T, src *fakedriver.Store, model *dbmodel.Model, target *fakedriver.Store) (*propagator.Propagator, *presence.Index) {
	idx := presence.New()
	sel := selector.New(src, rand.New(rand.NewSource(1)))
	bus := events.NewBus(nil)
	p := propagator.New(model, idx, sel, target, bus, nil, propagator.DefaultConfig(), "fake", "fake")
	return p, idx
}

func TestPropagator_ParentClosure(t *testing.T) {
	src, model := parentChildModel()
	target := fakedriver.New(2)
	p, idx := newPropagator(t, src, model, target)

	childTable, _ := model.Table(dbmodel.TableKey{Name: "child"})
	parentTable, _ := model.Table(dbmodel.TableKey{Name: "parent"})

	row, found, err := src.FetchByKey(context.Background(), childTable.Key, []string{"id"}, dbmodel.NewKeyTuple([]any{int64(5)}))
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, p.Propagate(context.Background(), childTable, row, false, 3))
	require.NoError(t, p.Flush(context.Background(), childTable))
	require.NoError(t, p.Flush(context.Background(), parentTable))

	parentID, _ := row.Get("parent_id")
	key := dbmodel.NewKeyTuple([]any{parentID})
	assert.True(t, idx.Contains(parentTable.Key, key), "parent must be present once child is copied")
	assert.Len(t, target.Inserted(parentTable.Key), 1)
	assert.Len(t, target.Inserted(childTable.Key), 1)
}

func TestPropagator_IdempotentOnRepeatedPropagation(t *testing.T) {
	src, model := parentChildModel()
	target := fakedriver.New(2)
	p, _ := newPropagator(t, src, model, target)

	childTable, _ := model.Table(dbmodel.TableKey{Name: "child"})
	row, _, _ := src.FetchByKey(context.Background(), childTable.Key, []string{"id"}, dbmodel.NewKeyTuple([]any{int64(1)}))

	require.NoError(t, p.Propagate(context.Background(), childTable, row, false, 3))
	require.NoError(t, p.Propagate(context.Background(), childTable, row, false, 3))
	require.NoError(t, p.Flush(context.Background(), childTable))

	assert.Len(t, target.Inserted(childTable.Key), 1, "P9: propagating the same row twice inserts exactly once")
}

func TestPropagator_SelfReferenceNoInfiniteLoop(t *testing.T) {
	src := fakedriver.New(3)
	nodeKey := dbmodel.TableKey{Name: "node"}
	cols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "parent_id", Type: dbmodel.ColumnTypeNumeric, Nullable: true}}

	var rows []dbmodel.Row
	rows = append(rows, dbmodel.NewRow([]string{"id", "parent_id"}, []any{int64(1), nil}))
	for i := 2; i <= 50; i++ {
		rows = append(rows, dbmodel.NewRow([]string{"id", "parent_id"}, []any{int64(i), int64(i - 1)}))
	}

	fk := dbmodel.ForeignKey{Name: "node_parent_fk", Child: nodeKey, Parent: nodeKey, Constrained: []string{"parent_id"}, Referred: []string{"id"}}
	src.SeedTable(nodeKey, cols, []string{"id"}, rows, []dbmodel.ForeignKey{fk})

	model := dbmodel.NewModel()
	model.AddTable(&dbmodel.Table{Key: nodeKey, Columns: cols, PK: []string{"id"}, Selected: true, SourceRowCount: 50, TargetCount: 5})
	model.AddForeignKey(fk)

	target := fakedriver.New(4)
	p, idx := newPropagator(t, src, model, target)

	nodeTable, _ := model.Table(nodeKey)
	leaf, _, _ := src.FetchByKey(context.Background(), nodeKey, []string{"id"}, dbmodel.NewKeyTuple([]any{int64(50)}))

	require.NoError(t, p.Propagate(context.Background(), nodeTable, leaf, false, 0))
	require.NoError(t, p.Flush(context.Background(), nodeTable))

	for i := int64(1); i <= 50; i++ {
		assert.True(t, idx.Contains(nodeKey, dbmodel.NewKeyTuple([]any{i})), "ancestor %d must be present", i)
	}
}

func TestPropagator_CycleTerminates(t *testing.T) {
	src := fakedriver.New(5)
	aKey := dbmodel.TableKey{Name: "a"}
	bKey := dbmodel.TableKey{Name: "b"}

	aCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "b_id", Type: dbmodel.ColumnTypeNumeric, Nullable: true}}
	bCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "a_id", Type: dbmodel.ColumnTypeNumeric, Nullable: true}}

	aRows := []dbmodel.Row{
		dbmodel.NewRow([]string{"id", "b_id"}, []any{int64(1), int64(1)}),
	}
	bRows := []dbmodel.Row{
		dbmodel.NewRow([]string{"id", "a_id"}, []any{int64(1), int64(1)}),
	}

	aToB := dbmodel.ForeignKey{Name: "a_b_fk", Child: aKey, Parent: bKey, Constrained: []string{"b_id"}, Referred: []string{"id"}}
	bToA := dbmodel.ForeignKey{Name: "b_a_fk", Child: bKey, Parent: aKey, Constrained: []string{"a_id"}, Referred: []string{"id"}}

	src.SeedTable(aKey, aCols, []string{"id"}, aRows, []dbmodel.ForeignKey{aToB})
	src.SeedTable(bKey, bCols, []string{"id"}, bRows, []dbmodel.ForeignKey{bToA})

	model := dbmodel.NewModel()
	model.AddTable(&dbmodel.Table{Key: aKey, Columns: aCols, PK: []string{"id"}, Selected: true, SourceRowCount: 1, TargetCount: 1})
	model.AddTable(&dbmodel.Table{Key: bKey, Columns: bCols, PK: []string{"id"}, Selected: true, SourceRowCount: 1, TargetCount: 1})
	model.AddForeignKey(aToB)
	model.AddForeignKey(bToA)

	target := fakedriver.New(6)
	p, idx := newPropagator(t, src, model, target)

	aTable, _ := model.Table(aKey)
	row := aRows[0]

	done := make(chan error, 1)
	go func() { done <- p.Propagate(context.Background(), aTable, row, false, 3) }()
	require.NoError(t, <-done, "cyclic FK graph must not hang the propagator")

	require.NoError(t, p.Flush(context.Background(), aTable))
	bTable, _ := model.Table(bKey)
	require.NoError(t, p.Flush(context.Background(), bTable))

	assert.True(t, idx.Contains(aKey, dbmodel.NewKeyTuple([]any{int64(1)})))
	assert.True(t, idx.Contains(bKey, dbmodel.NewKeyTuple([]any{int64(1)})))
}

func TestPropagator_ClosesOverCrossSchemaUnselectedParent(t *testing.T) {
	src := fakedriver.New(9)
	ordersKey := dbmodel.TableKey{Schema: "schema_a", Name: "orders"}
	customersKey := dbmodel.TableKey{Schema: "schema_b", Name: "customers"}

	orderCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "customer_id", Type: dbmodel.ColumnTypeNumeric}}
	customerCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}}

	orderRows := []dbmodel.Row{dbmodel.NewRow([]string{"id", "customer_id"}, []any{int64(1), int64(99)})}
	customerRows := []dbmodel.Row{dbmodel.NewRow([]string{"id"}, []any{int64(99)})}

	fk := dbmodel.ForeignKey{Name: "orders_customer_fk", Child: ordersKey, Parent: customersKey, Constrained: []string{"customer_id"}, Referred: []string{"id"}}
	src.SeedTable(ordersKey, orderCols, []string{"id"}, orderRows, []dbmodel.ForeignKey{fk})
	src.SeedTable(customersKey, customerCols, []string{"id"}, customerRows, nil)

	// Mirrors what the postgres/mysql drivers' Introspect now does: the
	// customer table lives outside the requested schema ("schema_a" only)
	// but must still be visible, unselected, so the FK edge can wire.
	model := dbmodel.NewModel()
	model.AddTable(&dbmodel.Table{Key: ordersKey, Columns: orderCols, PK: []string{"id"}, Selected: true, SourceRowCount: 1, TargetCount: 1})
	model.AddTable(&dbmodel.Table{Key: customersKey, Columns: customerCols, PK: []string{"id"}, Selected: false, SourceRowCount: 1})
	require.True(t, model.AddForeignKey(fk), "cross-schema parent must already be visible in the model")

	target := fakedriver.New(10)
	p, idx := newPropagator(t, src, model, target)

	ordersTable, _ := model.Table(ordersKey)
	require.NoError(t, p.Propagate(context.Background(), ordersTable, orderRows[0], false, 3))
	require.NoError(t, p.FlushAll(context.Background()))

	assert.True(t, idx.Contains(customersKey, dbmodel.NewKeyTuple([]any{int64(99)})),
		"spec.md §8 scenario 6: a cross-schema parent must still be pulled")
}

func TestPropagator_ForcedRowPullsAllDescendantsIgnoringChildCap(t *testing.T) {
	src := fakedriver.New(7)
	ordersKey := dbmodel.TableKey{Name: "orders"}
	itemsKey := dbmodel.TableKey{Name: "order_items"}

	orderCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}}
	itemCols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "order_id", Type: dbmodel.ColumnTypeNumeric}}

	orderRows := []dbmodel.Row{dbmodel.NewRow([]string{"id"}, []any{int64(42)})}
	var itemRows []dbmodel.Row
	for i := 1; i <= 500; i++ {
		itemRows = append(itemRows, dbmodel.NewRow([]string{"id", "order_id"}, []any{int64(i), int64(42)}))
	}

	fk := dbmodel.ForeignKey{Name: "items_order_fk", Child: itemsKey, Parent: ordersKey, Constrained: []string{"order_id"}, Referred: []string{"id"}}
	src.SeedTable(ordersKey, orderCols, []string{"id"}, orderRows, nil)
	src.SeedTable(itemsKey, itemCols, []string{"id"}, itemRows, []dbmodel.ForeignKey{fk})

	model := dbmodel.NewModel()
	model.AddTable(&dbmodel.Table{Key: ordersKey, Columns: orderCols, PK: []string{"id"}, Selected: true, Prioritized: true, SourceRowCount: 1, TargetCount: 1})
	model.AddTable(&dbmodel.Table{Key: itemsKey, Columns: itemCols, PK: []string{"id"}, Selected: true, Prioritized: true, SourceRowCount: 500, TargetCount: 500})
	model.AddForeignKey(fk)

	target := fakedriver.New(8)
	cfg := propagator.DefaultConfig()
	cfg.ChildrenLimit = 3 // must be ignored for priority rows
	idx := presence.New()
	sel := selector.New(src, rand.New(rand.NewSource(1)))
	bus := events.NewBus(nil)
	p := propagator.New(model, idx, sel, target, bus, nil, cfg, "fake", "fake")

	ordersTable, _ := model.Table(ordersKey)
	require.NoError(t, p.Propagate(context.Background(), ordersTable, orderRows[0], true, 3))
	require.NoError(t, p.FlushAll(context.Background()))

	assert.Len(t, target.Inserted(itemsKey), 500, "priority descendants are exempt from the per-parent children cap")
}
