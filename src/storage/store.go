package storage

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
)

var ErrRecordNotFound = errors.New("record not found")

// RecordStore is the durable store the coordinator reads and writes through.
// Implementations must not interleave two calls on the same key.
type RecordStore interface {
	Get(ctx context.Context, key common.RecordKey) (common.Value, error)
	Put(ctx context.Context, key common.RecordKey, value common.Value) error
	Delete(ctx context.Context, key common.RecordKey) error
}
