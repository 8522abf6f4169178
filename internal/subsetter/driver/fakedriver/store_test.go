package fakedriver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsubsetter/subsetter/internal/subsetter/dbmodel"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver"
	"github.com/dbsubsetter/subsetter/internal/subsetter/driver/fakedriver"
)

func customersTable() dbmodel.TableKey { return dbmodel.TableKey{Schema: "public", Name: "customers"} }

func seedCustomers(t *testing.T, s *fakedriver.Store, n int) {
	t.Helper()
	cols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "name", Type: dbmodel.ColumnTypeTextual}}
	var rows []dbmodel.Row
	for i := 1; i <= n; i++ {
		rows = append(rows, dbmodel.NewRow([]string{"id", "name"}, []any{int64(i), "customer"}))
	}
	s.SeedTable(customersTable(), cols, []string{"id"}, rows, nil)
}

func TestStore_IntrospectReflectsSeed(t *testing.T) {
	s := fakedriver.New(1)
	seedCustomers(t, s, 5)

	model, err := s.Introspect(context.Background(), nil)
	require.NoError(t, err)
	tbl, ok := model.Table(customersTable())
	require.True(t, ok)
	assert.Equal(t, int64(5), tbl.SourceRowCount)
}

func TestStore_NumericPKRange(t *testing.T) {
	s := fakedriver.New(1)
	seedCustomers(t, s, 10)

	min, max, ok, err := s.NumericPKRange(context.Background(), customersTable(), "id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(10), max)
}

func TestStore_FetchByPKValues(t *testing.T) {
	s := fakedriver.New(1)
	seedCustomers(t, s, 10)

	rows, err := s.FetchByPKValues(context.Background(), customersTable(), "id", []int64{3, 7, 999})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStore_InsertBatchAccumulates(t *testing.T) {
	s := fakedriver.New(1)
	target := customersTable()

	row := dbmodel.NewRow([]string{"id", "name"}, []any{int64(1), "alice"})
	require.NoError(t, s.InsertBatch(context.Background(), target, []string{"id", "name"}, []dbmodel.Row{row}))

	got := s.Inserted(target)
	require.Len(t, got, 1)
	v, _ := got[0].Get("name")
	assert.Equal(t, "alice", v)
}

func TestStore_FetchChildren(t *testing.T) {
	s := fakedriver.New(1)
	ordersKey := dbmodel.TableKey{Schema: "public", Name: "orders"}
	cols := []dbmodel.Column{{Name: "id", Type: dbmodel.ColumnTypeNumeric}, {Name: "customer_id", Type: dbmodel.ColumnTypeNumeric}}
	rows := []dbmodel.Row{
		dbmodel.NewRow([]string{"id", "customer_id"}, []any{int64(1), int64(42)}),
		dbmodel.NewRow([]string{"id", "customer_id"}, []any{int64(2), int64(42)}),
		dbmodel.NewRow([]string{"id", "customer_id"}, []any{int64(3), int64(7)}),
	}
	s.SeedTable(ordersKey, cols, []string{"id"}, rows, nil)

	parentKey := dbmodel.NewRow([]string{"id"}, []any{int64(42)})
	key, ok := parentKey.Key([]string{"id"})
	require.True(t, ok)

	children, err := s.FetchChildren(context.Background(), driver.ChildFetch{
		Table:       ordersKey,
		Columns:     []string{"customer_id"},
		ParentValue: key,
		Limit:       10,
	})
	require.NoError(t, err)
	assert.Len(t, children, 2)
}
