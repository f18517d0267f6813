package testinfra

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtally/internal/db"
	"github.com/vvka-141/pgtally/internal/logging"
)

// ConnEnvVar points integration tests at an existing server instead of a container.
const ConnEnvVar = "PGTALLY_TEST_CONN"

var (
	containerOnce sync.Once
	containerConn string
	containerErr  error
)

// The container lives for the whole test binary; Ryuk reaps it afterwards.
func sharedContainer() (string, error) {
	containerOnce.Do(func() {
		ctr, err := StartPostgres(context.Background())
		if err != nil {
			containerErr = err
			return
		}
		containerConn = ctr.ConnString
	})
	return containerConn, containerErr
}

// RequireDatabase returns a connection string for integration tests.
// Priority: PGTALLY_TEST_CONN > shared testcontainer > skip.
// Tests are skipped in -short mode.
func RequireDatabase(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if conn := os.Getenv(ConnEnvVar); conn != "" {
		return conn
	}

	conn, err := sharedContainer()
	if err != nil {
		t.Skipf("%s not set and Docker unavailable: %v", ConnEnvVar, err)
	}
	return conn
}

// NewPool connects to the test database through the production connector.
// The pool is closed when the test ends.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg, err := db.ParseConnectionString(RequireDatabase(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewStandardConnector(cfg, logging.NewNullLogger()).Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
