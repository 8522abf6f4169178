package selector_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver/fakedriver"
	"github.com/dbsubsetter/subsetter/internal/subsetter/selector"
)

func seedCustomers(n int) (*fakedriver.Store, *dbmodel.Table) {
	s := fakedriver.New(7)
	key := dbmodel.TableKey{Schema: "public", Name: "customers"}
	cols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "name", Type: dbmodel.ColumnTypeTextual}}
	var rows []dbmodel.Row
	for i := 1; i <= n; i++ {
		rows = append(rows, dbmodel.NewRow([]string{"id", "name"}, []any{int64(i), "c"}))
	}
	s.SeedTable(key, cols, []string{"id"}, rows, nil)
	return s, &dbmodel.Table{Key: key, Columns: cols, PK: []string{"id"}, SourceRowCount: int64(n)}
}

func TestSelector_SampleReturnsRequestedCount(t *testing.T) {
	src, table := seedCustomers(100)
	sel := selector.New(src, rand.New(rand.NewSource(1)))

	rows, err := sel.Sample(context.Background(), table, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestSelector_SampleDegradesOnSparseTable(t *testing.T) {
	src, table := seedCustomers(3)
	sel := selector.New(src, rand.New(rand.NewSource(1)))

	rows, err := sel.Sample(context.Background(), table, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestSelector_SampleZeroRequestIsEmpty(t *testing.T) {
	src, table := seedCustomers(10)
	sel := selector.New(src, rand.New(rand.NewSource(1)))

	rows, err := sel.Sample(context.Background(), table, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSelector_FetchByKey(t *testing.T) {
	src, table := seedCustomers(5)
	sel := selector.New(src, rand.New(rand.NewSource(1)))

	key, ok := dbmodel.NewRow([]string{"id"}, []any{int64(3)}).Key([]string{"id"})
	require.True(t, ok)

	row, found, err := sel.FetchByKey(context.Background(), table, key)
	require.NoError(t, err)
	require.True(t, found)
	v, _ := row.Get("id")
	assert.Equal(t, int64(3), v)
}

func TestSelector_FetchByKeyMissing(t *testing.T) {
	src, table := seedCustomers(5)
	sel := selector.New(src, rand.New(rand.NewSource(1)))

	key, ok := dbmodel.NewRow([]string{"id"}, []any{int64(999)}).Key([]string{"id"})
	require.True(t, ok)

	_, found, err := sel.FetchByKey(context.Background(), table, key)
	require.NoError(t, err)
	assert.False(t, found)
}
