package dbmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow_Key(t *testing.T) {
	r := NewRow([]string{"id", "name"}, []any{int64(42), "alice"})
	key, ok := r.Key([]string{"id"})
	require.True(t, ok)
	assert.Equal(t, "42", key.String())

	_, ok = r.Key([]string{"missing"})
	assert.False(t, ok)
}

func TestKeyTuple_EqualityByValue(t *testing.T) {
	r1 := NewRow([]string{"a", "b"}, []any{int64(1), "x"})
	r2 := NewRow([]string{"a", "b"}, []any{int64(1), "x"})
	k1, _ := r1.Key([]string{"a", "b"})
	k2, _ := r2.Key([]string{"a", "b"})
	assert.Equal(t, k1.String(), k2.String())
}

func TestRow_ValuesPreserveColumnOrder(t *testing.T) {
	r := NewRow([]string{"z", "a"}, []any{1, 2})
	assert.Equal(t, []any{1, 2}, r.Values())
	assert.Equal(t, []string{"z", "a"}, r.Columns())
}
