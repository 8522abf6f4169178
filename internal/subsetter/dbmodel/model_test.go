package dbmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tk(name string) TableKey { return TableKey{Schema: "public", Name: name} }

func TestModel_TopologicalOrder_ParentsBeforeChildren(t *testing.T) {
	m := NewModel()
	parent := &Table{Key: tk("parent"), PK: []string{"id"}, Selected: true}
	child := &Table{Key: tk("child"), PK: []string{"id"}, Selected: true}
	m.AddTable(parent)
	m.AddTable(child)
	require.True(t, m.AddForeignKey(ForeignKey{
		Child: tk("child"), Parent: tk("parent"),
		Constrained: []string{"parent_id"}, Referred: []string{"id"},
	}))

	order := m.TopologicalOrder()
	require.Len(t, order, 2)
	assert.Equal(t, "parent", order[0].Key.Name)
	assert.Equal(t, "child", order[1].Key.Name)
}

func TestModel_TopologicalOrder_BreaksCyclesDeterministically(t *testing.T) {
	m := NewModel()
	a := &Table{Key: tk("a"), PK: []string{"id"}, Selected: true}
	b := &Table{Key: tk("b"), PK: []string{"id"}, Selected: true}
	m.AddTable(a)
	m.AddTable(b)
	m.AddForeignKey(ForeignKey{Child: tk("a"), Parent: tk("b"), Constrained: []string{"b_id"}, Referred: []string{"id"}})
	m.AddForeignKey(ForeignKey{Child: tk("b"), Parent: tk("a"), Constrained: []string{"a_id"}, Referred: []string{"id"}})

	order := m.TopologicalOrder()
	require.Len(t, order, 2)
	assert.Equal(t, "a", order[0].Key.Name, "cycle broken alphabetically")

	// Deterministic: repeated calls give the same order.
	order2 := m.TopologicalOrder()
	assert.Equal(t, order[0].Key, order2[0].Key)
	assert.Equal(t, order[1].Key, order2[1].Key)
}

func TestMatchesAny(t *testing.T) {
	orders := TableKey{Schema: "public", Name: "orders"}
	assert.True(t, MatchesAny(orders, []string{"orders"}))
	assert.True(t, MatchesAny(orders, []string{"ord*"}))
	assert.True(t, MatchesAny(orders, []string{"public.orders"}))
	assert.False(t, MatchesAny(orders, []string{"public.other"}))
	assert.False(t, MatchesAny(orders, nil))
}

func TestCompletenessScore_ZeroTargetIsNeverChosen(t *testing.T) {
	tbl := &Table{Key: tk("empty"), TargetCount: 0}
	assert.True(t, tbl.CompletenessScore() > 1e300)
}

func TestModel_AddForeignKey_FalseWhenParentNotYetVisible(t *testing.T) {
	m := NewModel()
	child := &Table{Key: TableKey{Schema: "schema_a", Name: "orders"}, PK: []string{"id"}, Selected: true}
	m.AddTable(child)

	parentKey := TableKey{Schema: "schema_b", Name: "customers"}
	fk := ForeignKey{Child: child.Key, Parent: parentKey, Constrained: []string{"customer_id"}, Referred: []string{"id"}}

	// A parent outside the requested schemas isn't introspected yet, so
	// wiring the edge before it exists must fail rather than drop silently.
	assert.False(t, m.AddForeignKey(fk))
	assert.Empty(t, child.Outgoing, "edge must not be wired until the parent is visible")

	// Introspection makes the unrequested-schema parent visible (unselected)
	// before retrying the wire, per §4.1.
	m.AddTable(&Table{Key: parentKey, PK: []string{"id"}, Selected: false})
	require.True(t, m.AddForeignKey(fk))
	require.Len(t, child.Outgoing, 1)
	assert.Equal(t, parentKey, child.Outgoing[0].Parent)

	parent, ok := m.Table(parentKey)
	require.True(t, ok)
	assert.False(t, parent.Selected, "cross-schema parent is visible but not selected for copying")
	require.Len(t, parent.Incoming, 1)
}
