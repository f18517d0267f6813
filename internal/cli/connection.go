package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtally/internal/config"
	"github.com/vvka-141/pgtally/internal/db"
	"github.com/vvka-141/pgtally/internal/store"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// connFlags are the connection flags shared by every command that talks to
// the database.
type connFlags struct {
	connection string
	granular   db.GranularConnFlags
	cloud      db.CloudFlags
}

func addConnectionFlags(cmd *cobra.Command, f *connFlags) {
	fs := cmd.Flags()
	fs.StringVar(&f.connection, "connection", "",
		"PostgreSQL connection string (URI or ADO.NET format)\n"+
			"Falls back to $PGTALLY_CONNECTION_STRING, then $DATABASE_URL")
	fs.StringVarP(&f.granular.Host, "host", "h", "",
		"PostgreSQL server host (default: $DB_HOST, $PGHOST or localhost)")
	fs.IntVarP(&f.granular.Port, "port", "p", 0,
		"PostgreSQL server port (default: $DB_PORT, $PGPORT or 5432)")
	fs.StringVarP(&f.granular.Username, "username", "U", "",
		"PostgreSQL user (default: $DB_USER or $PGUSER)")
	fs.StringVarP(&f.granular.Database, "database", "d", "",
		"Database name (default: $DB_NAME or $PGDATABASE)")
	fs.StringVar(&f.granular.SSLMode, "sslmode", "",
		"SSL mode: disable, allow, prefer, require, verify-ca, verify-full")

	fs.StringVar(&f.cloud.AuthMethod, "auth-method", "",
		"Authentication method: standard, aws, azure, google")
	fs.StringVar(&f.cloud.AzureTenantID, "azure-tenant-id", "",
		"Azure AD tenant ID (default: $AZURE_TENANT_ID)")
	fs.StringVar(&f.cloud.AzureClientID, "azure-client-id", "",
		"Azure AD application ID (default: $AZURE_CLIENT_ID)")
	fs.StringVar(&f.cloud.AWSRegion, "aws-region", "",
		"AWS region for RDS IAM authentication (default: $AWS_REGION)")
	fs.StringVar(&f.cloud.GoogleInstance, "google-instance", "",
		"Cloud SQL instance connection name (project:region:instance)")
}

// resolveConnection merges flags, the environment and the project file into
// one ConnectionConfig.
func resolveConnection(f *connFlags, project *config.ProjectConfig) (*pgtally.ConnectionConfig, error) {
	dbEnv, err := config.LoadDBEnv()
	if err != nil {
		return nil, err
	}
	env, err := db.LoadFromEnvironment()
	if err != nil {
		return nil, err
	}

	return db.ResolveConnectionParams(db.Sources{
		ConnString: f.connection,
		Flags:      &f.granular,
		Cloud:      &f.cloud,
		DBEnv:      dbEnv,
		Env:        env,
		Project:    project,
	})
}

// openStore connects and acquires the single run connection. The returned
// release func closes the store and, for dialer-based connectors, the dialer.
func openStore(ctx context.Context, cfg *pgtally.ConnectionConfig, table string, logger pgtally.Logger) (*store.PgStore, func(), error) {
	connector, err := db.NewConnector(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	closeConnector := func() {
		if c, ok := connector.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Error("failed to close connector: %v", err)
			}
		}
	}

	pool, err := connector.Connect(ctx)
	if err != nil {
		closeConnector()
		return nil, nil, err
	}

	st, err := store.Open(ctx, pool, table, logger)
	if err != nil {
		pool.Close()
		closeConnector()
		return nil, nil, err
	}

	release := func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to release connection: %v", err)
		}
		closeConnector()
	}
	return st, release, nil
}

// loadProjectConfig reads pgtally.yaml from dir; a missing file yields nil.
func loadProjectConfig(dir string) (*config.ProjectConfig, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", config.ConfigFileName, err)
	}
	return cfg, nil
}

func printConnection(logger pgtally.Logger, cfg *pgtally.ConnectionConfig) {
	logger.Verbose("Connection: %s (auth: %s)", db.Redact(cfg), cfg.AuthMethod)
}
