package optional

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptional(t *testing.T) {
	some := Some(42)
	require.True(t, some.IsSome())
	require.Equal(t, 42, some.Unwrap())

	none := None[int]()
	require.True(t, none.IsNone())
	v, ok := none.Get()
	require.False(t, ok)
	require.Zero(t, v)
	require.Panics(t, func() { none.Unwrap() })
}
