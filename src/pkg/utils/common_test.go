package utils

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64BytesRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1000, math.MaxInt64, math.MinInt64} {
		assert.Equal(t, v, BytesToInt64(Int64ToBytes(v)))
	}
	assert.Equal(t, int64(0), BytesToInt64([]byte{1, 2}))
}

func TestMust(t *testing.T) {
	require.Equal(t, 5, Must(5, nil))
	require.Panics(t, func() { Must(0, errors.New("boom")) })
}
