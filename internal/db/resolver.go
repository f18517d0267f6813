package db

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kelseyhightower/envconfig"

	"github.com/vvka-141/pgtally/internal/config"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// GranularConnFlags holds connection parameters from CLI flags, following
// PostgreSQL client conventions (-h, -p, -U, -d).
//
// There is deliberately no password flag; use DB_PASSWORD, $PGPASSWORD,
// ~/.pgpass or a connection string.
type GranularConnFlags struct {
	Host     string
	Port     int
	Username string
	Database string
	SSLMode  string
}

// IsEmpty reports whether no server-selecting flag was given.
// Database is excluded: it may override the database of a connection string.
func (g *GranularConnFlags) IsEmpty() bool {
	return g.Host == "" && g.Port == 0 && g.Username == "" && g.SSLMode == ""
}

// CloudFlags selects and parameterizes cloud IAM authentication.
// The Azure client secret is only read from AZURE_CLIENT_SECRET.
type CloudFlags struct {
	AuthMethod     string
	AzureTenantID  string
	AzureClientID  string
	AWSRegion      string
	GoogleInstance string
}

// EnvVars are the standard PostgreSQL and cloud SDK variables.
// See: https://www.postgresql.org/docs/current/libpq-envars.html
type EnvVars struct {
	ConnectionString string `envconfig:"PGTALLY_CONNECTION_STRING"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`

	PGHost     string `envconfig:"PGHOST"`
	PGPort     string `envconfig:"PGPORT"`
	PGUser     string `envconfig:"PGUSER"`
	PGPassword string `envconfig:"PGPASSWORD"`
	PGDatabase string `envconfig:"PGDATABASE"`
	PGSSLMode  string `envconfig:"PGSSLMODE"`

	AzureTenantID     string `envconfig:"AZURE_TENANT_ID"`
	AzureClientID     string `envconfig:"AZURE_CLIENT_ID"`
	AzureClientSecret string `envconfig:"AZURE_CLIENT_SECRET"`
	AWSRegion         string `envconfig:"AWS_REGION"`
}

// LoadFromEnvironment reads EnvVars from the process environment.
func LoadFromEnvironment() (*EnvVars, error) {
	var env EnvVars
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("%w: %w", pgtally.ErrInvalidConfig, err)
	}
	return &env, nil
}

// Sources bundles every input that can contribute connection parameters.
// Nil members are treated as empty.
type Sources struct {
	ConnString string
	Flags      *GranularConnFlags
	Cloud      *CloudFlags
	DBEnv      *config.DBEnv
	Env        *EnvVars
	Project    *config.ProjectConfig
}

// ResolveConnectionParams resolves connection parameters in this order:
//
//  1. --connection
//  2. PGTALLY_CONNECTION_STRING, then DATABASE_URL, unless granular flags are given
//  3. per parameter: granular flag > DB_* > PG* > pgtally.yaml > default
//
// A connection string together with granular flags is rejected as ambiguous.
func ResolveConnectionParams(src Sources) (*pgtally.ConnectionConfig, error) {
	flags := src.Flags
	if flags == nil {
		flags = &GranularConnFlags{}
	}
	env := src.Env
	if env == nil {
		env = &EnvVars{}
	}
	dbEnv := src.DBEnv
	if dbEnv == nil {
		dbEnv = &config.DBEnv{}
	}
	var pc config.ConnectionConfig
	if src.Project != nil {
		pc = src.Project.Connection
	}

	if src.ConnString != "" && !flags.IsEmpty() {
		return nil, fmt.Errorf("cannot specify both --connection and granular flags (-h, -p, -U, --sslmode)\n"+
			"Choose one approach:\n"+
			"  1. Connection string: --connection \"postgresql://user@localhost:5432/postgres\"\n"+
			"  2. Granular flags: -h localhost -p 5432 -U myuser -d mydb\n"+
			"  3. Environment variables: DB_HOST, DB_PORT, DB_USER, DB_NAME, DB_PASSWORD: %w", pgtally.ErrInvalidConfig)
	}

	connStr := src.ConnString
	if connStr == "" && flags.IsEmpty() {
		connStr = firstNonEmpty(env.ConnectionString, env.DatabaseURL)
	}

	var cfg *pgtally.ConnectionConfig
	var err error
	if connStr != "" {
		cfg, err = fromConnectionString(connStr, env)
	} else {
		cfg, err = fromGranular(flags, dbEnv, env, pc)
	}
	if err != nil {
		return nil, err
	}

	if flags.Database != "" {
		cfg.Database = flags.Database
	}

	if err := applyCloudAuth(cfg, src.Cloud, env, pc); err != nil {
		return nil, err
	}

	return cfg, nil
}

func fromConnectionString(connStr string, env *EnvVars) (*pgtally.ConnectionConfig, error) {
	cfg, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w: %w", pgtally.ErrInvalidConfig, err)
	}
	cfg.SSLMode = firstNonEmpty(cfg.SSLMode, env.PGSSLMode, DefaultSSLMode)
	return cfg, nil
}

func fromGranular(flags *GranularConnFlags, dbEnv *config.DBEnv, env *EnvVars, pc config.ConnectionConfig) (*pgtally.ConnectionConfig, error) {
	cfg := defaultConfig()

	cfg.Host = firstNonEmpty(flags.Host, dbEnv.Host, env.PGHost, pc.Host, DefaultHost)

	switch {
	case flags.Port != 0:
		cfg.Port = flags.Port
	case dbEnv.Port != 0:
		cfg.Port = dbEnv.Port
	case env.PGPort != "":
		port, err := strconv.Atoi(env.PGPort)
		if err != nil {
			return nil, fmt.Errorf("invalid $PGPORT value %q: must be an integer: %w", env.PGPort, pgtally.ErrInvalidConfig)
		}
		cfg.Port = port
	case pc.Port != 0:
		cfg.Port = pc.Port
	}

	cfg.Username = firstNonEmpty(flags.Username, dbEnv.User, env.PGUser, pc.Username, os.Getenv("USER"), os.Getenv("USERNAME"))
	cfg.Password = firstNonEmpty(dbEnv.Password, env.PGPassword)
	cfg.Database = firstNonEmpty(flags.Database, dbEnv.Name, env.PGDatabase, pc.Database, pgtally.DefaultManagementDB)
	cfg.SSLMode = firstNonEmpty(flags.SSLMode, env.PGSSLMode, pc.SSLMode, DefaultSSLMode)

	return cfg, nil
}

// applyCloudAuth selects the auth method (flag > pgtally.yaml > Azure
// credentials in the environment) and attaches provider parameters.
func applyCloudAuth(cfg *pgtally.ConnectionConfig, cloud *CloudFlags, env *EnvVars, pc config.ConnectionConfig) error {
	if cloud == nil {
		cloud = &CloudFlags{}
	}

	name := firstNonEmpty(cloud.AuthMethod, pc.AuthMethod)
	method, err := pgtally.ParseAuthMethod(name)
	if err != nil {
		return err
	}

	tenantID := firstNonEmpty(cloud.AzureTenantID, env.AzureTenantID, pc.AzureTenantID)
	clientID := firstNonEmpty(cloud.AzureClientID, env.AzureClientID, pc.AzureClientID)
	if name == "" && (tenantID != "" || clientID != "") {
		method = pgtally.AuthMethodAzureEntraID
	}

	cfg.AuthMethod = method
	switch method {
	case pgtally.AuthMethodAzureEntraID:
		cfg.AzureTenantID = tenantID
		cfg.AzureClientID = clientID
		cfg.AzureClientSecret = env.AzureClientSecret
	case pgtally.AuthMethodAWSIAM:
		cfg.AWSRegion = firstNonEmpty(cloud.AWSRegion, env.AWSRegion, pc.AWSRegion)
	case pgtally.AuthMethodGoogleIAM:
		cfg.GoogleInstance = firstNonEmpty(cloud.GoogleInstance, pc.GoogleInstance)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
