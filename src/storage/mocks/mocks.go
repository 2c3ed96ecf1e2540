package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/TxnCoord/src/pkg/common"
	"github.com/Blackdeer1524/TxnCoord/src/storage"
)

// MockRecordStore is a RecordStore whose calls are scripted with mock.Mock.
type MockRecordStore struct {
	mock.Mock
}

var _ storage.RecordStore = &MockRecordStore{}

func (m *MockRecordStore) Get(ctx context.Context, key common.RecordKey) (common.Value, error) {
	args := m.Called(ctx, key)
	v, _ := args.Get(0).(common.Value)
	return v, args.Error(1)
}

func (m *MockRecordStore) Put(ctx context.Context, key common.RecordKey, value common.Value) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockRecordStore) Delete(ctx context.Context, key common.RecordKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
