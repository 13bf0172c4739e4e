package repositories

import (
	"context"
	"errors"
)

// Sentinel errors returned by every RecordStore backend
var (
	// ErrNotFound indicates no record exists under the key
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates Put found an existing record under the key
	ErrConflict = errors.New("record already exists")

	// ErrVersionMismatch indicates Update lost a race with another writer
	ErrVersionMismatch = errors.New("record version mismatch")
)

// Record is a stored value together with its version.
// Version starts at 1 and increases by one on every successful Update.
type Record struct {
	Value   []byte
	Version int64
}

// RecordStore is the key/value persistence interface used by the key store
// and the account service. One backend is chosen at startup.
type RecordStore interface {
	// Get returns the record stored under key or ErrNotFound
	Get(ctx context.Context, key string) (*Record, error)

	// Put inserts a new record and fails with ErrConflict if key exists
	Put(ctx context.Context, key string, value []byte) (int64, error)

	// Update replaces the record only if its version still equals expectedVersion
	Update(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)

	// Delete removes the record or returns ErrNotFound
	Delete(ctx context.Context, key string) error

	// Health reports whether the backend is reachable
	Health(ctx context.Context) error

	// Close releases backend resources
	Close()
}
