// Package testinfra starts disposable PostgreSQL servers for integration tests.
package testinfra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vvka-141/pgtally/internal/store"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

const (
	PostgresImage    = "postgres:17-alpine"
	PostgresUser     = "tally"
	PostgresPassword = "tally"
	PostgresDB       = "pgtally_test"
)

// Server is a running loader database. Its default table already exists,
// the way an operator would provision it ahead of `pgtally run`.
type Server struct {
	*postgres.PostgresContainer
	ConnString string
	Table      string
}

// StartPostgres runs PostgreSQL with the default transactions table
// created by an init script.
func StartPostgres(ctx context.Context) (*Server, error) {
	script, cleanup, err := writeInitScript(pgtally.DefaultTable)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctr, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		postgres.WithDatabase(PostgresDB),
		postgres.WithInitScripts(script),
		// DATE columns round-trip as UTC midnight
		testcontainers.WithEnv(map[string]string{"TZ": "UTC", "PGTZ": "UTC"}),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable", "application_name=pgtally_test")
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &Server{PostgresContainer: ctr, ConnString: connStr, Table: pgtally.DefaultTable}, nil
}

// writeInitScript renders the loader DDL for table into a temporary .sql
// file. The container copies it at creation, so cleanup may run right after.
func writeInitScript(table string) (string, func(), error) {
	ddl, err := store.CreateTableSQL(table)
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp("", "pgtally-init-*")
	if err != nil {
		return "", nil, fmt.Errorf("create init script dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) } //nolint:errcheck

	path := filepath.Join(dir, "01-"+table+".sql")
	if err := os.WriteFile(path, []byte(ddl+";\n"), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write init script: %w", err)
	}
	return path, cleanup, nil
}
