package mock

import (
	"context"
	"sync"

	"github.com/hyperio-mc/agent-talk/src/repositories"
)

// RecordStore is a mock implementation of repositories.RecordStore.
// Calls without a stub fall through to Backend when one is set.
type RecordStore struct {
	// Function stubs that can be overridden in tests
	GetFunc    func(ctx context.Context, key string) (*repositories.Record, error)
	PutFunc    func(ctx context.Context, key string, value []byte) (int64, error)
	UpdateFunc func(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)
	DeleteFunc func(ctx context.Context, key string) error
	HealthFunc func(ctx context.Context) error

	// Backend handles calls that have no stub
	Backend repositories.RecordStore

	// Call tracking
	mu    sync.Mutex
	Calls map[string][]interface{}
}

// NewRecordStore creates a new mock record store delegating to backend
func NewRecordStore(backend repositories.RecordStore) *RecordStore {
	return &RecordStore{
		Backend: backend,
		Calls:   make(map[string][]interface{}),
	}
}

func (m *RecordStore) record(method string, arg interface{}) {
	m.mu.Lock()
	m.Calls[method] = append(m.Calls[method], arg)
	m.mu.Unlock()
}

// CallCount returns how many times method was invoked
func (m *RecordStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls[method])
}

func (m *RecordStore) Get(ctx context.Context, key string) (*repositories.Record, error) {
	m.record("Get", key)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	if m.Backend != nil {
		return m.Backend.Get(ctx, key)
	}
	return nil, repositories.ErrNotFound
}

func (m *RecordStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	m.record("Put", key)
	if m.PutFunc != nil {
		return m.PutFunc(ctx, key, value)
	}
	if m.Backend != nil {
		return m.Backend.Put(ctx, key, value)
	}
	return 1, nil
}

func (m *RecordStore) Update(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	m.record("Update", key)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key, value, expectedVersion)
	}
	if m.Backend != nil {
		return m.Backend.Update(ctx, key, value, expectedVersion)
	}
	return expectedVersion + 1, nil
}

func (m *RecordStore) Delete(ctx context.Context, key string) error {
	m.record("Delete", key)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	if m.Backend != nil {
		return m.Backend.Delete(ctx, key)
	}
	return nil
}

func (m *RecordStore) Health(ctx context.Context) error {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	if m.Backend != nil {
		return m.Backend.Health(ctx)
	}
	return nil
}

func (m *RecordStore) Close() {
	m.record("Close", nil)
	if m.Backend != nil {
		m.Backend.Close()
	}
}

// Ensure RecordStore implements the interface
var _ repositories.RecordStore = (*RecordStore)(nil)
