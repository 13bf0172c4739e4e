package database

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// cleanupMutex serializes TRUNCATE between parallel tests
var cleanupMutex sync.Mutex

// TestDB wraps a Database configured for testing
type TestDB struct {
	DB *Database
	t  *testing.T
}

// NewTestDB connects to TEST_DATABASE_URL, or starts a throwaway PostgreSQL
// container when the variable is unset. The test is skipped if neither works.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = startContainer(ctx, t)
	}

	db, err := New(ctx, dbURL, PoolConfig{MaxConns: 5, MinConns: 1, MaxConnLifetime: time.Minute, MaxConnIdleTime: time.Minute})
	if err != nil {
		t.Skipf("Could not connect to test database: %v", err)
		return nil
	}

	tdb := &TestDB{DB: db, t: t}
	t.Cleanup(func() {
		tdb.Cleanup()
		tdb.DB.Close()
	})
	tdb.Cleanup()

	return tdb
}

// requireContainerRuntime skips the test when no docker or podman is usable.
// pgmodule.Run panics instead of returning an error in that case.
func requireContainerRuntime(t *testing.T) {
	t.Helper()

	_, dockerErr := exec.LookPath("docker")
	_, podmanErr := exec.LookPath("podman")
	if dockerErr != nil && podmanErr != nil {
		t.Skip("docker/podman not found, skipping PostgreSQL integration tests")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	requireContainerRuntime(t)

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("agent_talk_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Skipf("skipping: could not get container connection string: %v", err)
	}
	return connStr
}

// Cleanup truncates the records table
func (tdb *TestDB) Cleanup() {
	cleanupMutex.Lock()
	defer cleanupMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = tdb.DB.pool.Exec(ctx, `TRUNCATE records`)
}

// WithTestDB is a helper for tests that need database access
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    database.WithTestDB(t, func(tdb *database.TestDB) {
//	        store := database.NewRecordStore(tdb.DB)
//	    })
//	}
func WithTestDB(t *testing.T, fn func(tdb *TestDB)) {
	t.Helper()

	tdb := NewTestDB(t)
	if tdb == nil {
		return
	}

	fn(tdb)
}
