package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeyOrdering(t *testing.T) {
	a1 := NewRecordKey("accounts", 1)
	a2 := NewRecordKey("accounts", 2)
	p1 := NewRecordKey("players", 1)

	assert.True(t, a1.Less(a2))
	assert.True(t, a2.Less(p1))
	assert.False(t, p1.Less(a1))
	assert.Equal(t, 0, a1.Compare(NewRecordKey("accounts", 1)))
	assert.Equal(t, "players/1", p1.String())
}

func TestSortKeysDeduplicates(t *testing.T) {
	keys := []RecordKey{
		NewRecordKey("b", 1),
		NewRecordKey("a", 2),
		NewRecordKey("b", 1),
		NewRecordKey("a", 1),
	}
	sorted := SortKeys(keys)
	require.Equal(t, []RecordKey{
		NewRecordKey("a", 1),
		NewRecordKey("a", 2),
		NewRecordKey("b", 1),
	}, sorted)
	require.Len(t, keys, 4, "input must not be modified")
}

func TestValueClone(t *testing.T) {
	v := Value("abc")
	c := v.Clone()
	c[0] = 'x'
	assert.Equal(t, Value("abc"), v)
	assert.Nil(t, Value(nil).Clone())
}
