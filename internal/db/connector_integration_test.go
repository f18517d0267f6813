package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtally/internal/db"
	"github.com/vvka-141/pgtally/internal/logging"
	"github.com/vvka-141/pgtally/internal/testinfra"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

func testConfig(t *testing.T) *pgtally.ConnectionConfig {
	t.Helper()
	cfg, err := db.ParseConnectionString(testinfra.RequireDatabase(t))
	require.NoError(t, err)
	return cfg
}

func connect(t *testing.T, cfg *pgtally.ConnectionConfig) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	connector, err := db.NewConnector(cfg, logging.NewNullLogger())
	require.NoError(t, err)

	pool, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var version string
	require.NoError(t, pool.QueryRow(ctx, "SELECT version()").Scan(&version))
	assert.Contains(t, version, "PostgreSQL")
	assert.EqualValues(t, db.MaxConns, pool.Config().MaxConns)
	return nil
}

func TestStandardConnection(t *testing.T) {
	assert.NoError(t, connect(t, testConfig(t)))
}

func TestStandardConnection_RoundTripsThroughBuilder(t *testing.T) {
	cfg := testConfig(t)

	rebuilt, err := db.ParseConnectionString(db.BuildConnectionString(cfg))
	require.NoError(t, err)
	assert.NoError(t, connect(t, rebuilt))
}

func TestStandardConnection_WrongPassword(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "definitely-wrong-password"

	err := connect(t, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pgtally.ErrConnectionFailed))
	assert.Contains(t, err.Error(), "password")
}

func TestStandardConnection_UnknownDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = "pgtally_no_such_db"

	err := connect(t, cfg)
	require.Error(t, err)
	assert.Equal(t, pgtally.ExitConnectionError, pgtally.ExitCodeForError(err))
}
