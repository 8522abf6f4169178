package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
)

func TestIndex_ContainsAndAdd(t *testing.T) {
	idx := New()
	table := dbmodel.TableKey{Schema: "public", Name: "orders"}
	row := dbmodel.NewRow([]string{"id"}, []any{int64(1)})
	key, _ := row.Key([]string{"id"})

	assert.False(t, idx.Contains(table, key))
	idx.Add(table, key)
	assert.True(t, idx.Contains(table, key))
	assert.Equal(t, int64(1), idx.Count(table))
}

func TestIndex_AddIsIdempotent(t *testing.T) {
	idx := New()
	table := dbmodel.TableKey{Name: "orders"}
	row := dbmodel.NewRow([]string{"id"}, []any{int64(7)})
	key, _ := row.Key([]string{"id"})

	idx.Add(table, key)
	idx.Add(table, key)
	idx.Add(table, key)
	assert.Equal(t, int64(1), idx.Count(table), "P9: duplicate Add results in exactly one insertion")
}

func TestIndex_UnkeyedTablesAlwaysInsertable(t *testing.T) {
	idx := New()
	table := dbmodel.TableKey{Name: "audit_log"}
	idx.AddUnkeyed(table)
	idx.AddUnkeyed(table)
	assert.Equal(t, int64(2), idx.Count(table))
}

func TestIndex_UnknownTableIsEmpty(t *testing.T) {
	idx := New()
	assert.Equal(t, int64(0), idx.Count(dbmodel.TableKey{Name: "nope"}))
}
