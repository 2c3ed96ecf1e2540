package common

import (
	"cmp"
	"fmt"
)

/* a monotonically increasing counter. It is guaranteed to be unique between
 * transactions of one coordinator. A larger ID means a more recently started
 * transaction */
type TxnID uint64

const NilTxnID TxnID = 0

// Version of a record. NilVersion means the record was never written.
type Version uint64

const NilVersion Version = 0

type Value []byte

// RecordKey identifies a stored entity, e.g. a table row by its primary key.
type RecordKey struct {
	Table string
	PK    uint64
}

func NewRecordKey(table string, pk uint64) RecordKey {
	return RecordKey{Table: table, PK: pk}
}

func (k RecordKey) Compare(other RecordKey) int {
	if c := cmp.Compare(k.Table, other.Table); c != 0 {
		return c
	}
	return cmp.Compare(k.PK, other.PK)
}

func (k RecordKey) Less(other RecordKey) bool {
	return k.Compare(other) < 0
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%d", k.Table, k.PK)
}

// Clone returns a copy of the value that does not alias v.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	copy(out, v)
	return out
}
