package utils

import (
	"encoding/binary"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

type Pair[T, K any] struct {
	First  T
	Second K
}

func (p Pair[T, K]) Destruct() (T, K) {
	return p.First, p.Second
}

// Int64ToBytes encodes a signed counter (a ranking, a balance) the way the
// workloads store it in a record value.
func Int64ToBytes(num int64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(num))
}

// BytesToInt64 is the inverse of Int64ToBytes. Short input decodes as zero.
func BytesToInt64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
