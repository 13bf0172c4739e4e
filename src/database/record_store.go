package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperio-mc/agent-talk/src/repositories"
	"github.com/jackc/pgx/v5"
)

// RecordStore implements repositories.RecordStore on the records table.
// Update-if-unchanged is a single UPDATE guarded by the version column.
type RecordStore struct {
	db *Database
}

var _ repositories.RecordStore = (*RecordStore)(nil)

// NewRecordStore wraps db as a RecordStore
func NewRecordStore(db *Database) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) Get(ctx context.Context, key string) (*repositories.Record, error) {
	var rec repositories.Record
	err := s.db.pool.QueryRow(ctx,
		`SELECT value, version FROM records WHERE key = $1`,
		key,
	).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %q: %w", key, err)
	}
	return &rec, nil
}

func (s *RecordStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	tag, err := s.db.pool.Exec(ctx,
		`INSERT INTO records (key, value, version) VALUES ($1, $2, 1)
		 ON CONFLICT (key) DO NOTHING`,
		key, value,
	)
	if err != nil {
		return 0, fmt.Errorf("put record %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, repositories.ErrConflict
	}
	return 1, nil
}

func (s *RecordStore) Update(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	var version int64
	err := s.db.pool.QueryRow(ctx,
		`UPDATE records
		 SET value = $2, version = version + 1, updated_at = NOW()
		 WHERE key = $1 AND version = $3
		 RETURNING version`,
		key, value, expectedVersion,
	).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update record %q: %w", key, err)
	}

	// Nothing matched: either the row is gone or another writer won.
	var exists bool
	if err := s.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM records WHERE key = $1)`, key,
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("update record %q: %w", key, err)
	}
	if !exists {
		return 0, repositories.ErrNotFound
	}
	return 0, repositories.ErrVersionMismatch
}

func (s *RecordStore) Delete(ctx context.Context, key string) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (s *RecordStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

func (s *RecordStore) Close() {
	s.db.Close()
}
