// Package memory provides an in-process RecordStore for single instance
// deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/hyperio-mc/agent-talk/src/repositories"
)

// RecordStore keeps records in a map guarded by a RWMutex.
// Values are copied on the way in and out so callers cannot alias them.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]repositories.Record
}

var _ repositories.RecordStore = (*RecordStore)(nil)

// NewRecordStore creates an empty in-memory store
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]repositories.Record),
	}
}

func (s *RecordStore) Get(ctx context.Context, key string) (*repositories.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, repositories.ErrNotFound
	}

	return &repositories.Record{Value: clone(rec.Value), Version: rec.Version}, nil
}

func (s *RecordStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return 0, repositories.ErrConflict
	}
	s.records[key] = repositories.Record{Value: clone(value), Version: 1}
	return 1, nil
}

func (s *RecordStore) Update(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	if rec.Version != expectedVersion {
		return 0, repositories.ErrVersionMismatch
	}

	next := rec.Version + 1
	s.records[key] = repositories.Record{Value: clone(value), Version: next}
	return next, nil
}

func (s *RecordStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return repositories.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// Health always succeeds for the in-memory backend
func (s *RecordStore) Health(ctx context.Context) error {
	return ctx.Err()
}

func (s *RecordStore) Close() {}

// Len returns the number of stored records
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
