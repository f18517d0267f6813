package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// DBEnv is the DB_* environment block: DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD.
type DBEnv struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// IsEmpty reports whether no DB_* variable was set.
func (e *DBEnv) IsEmpty() bool {
	return e == nil || (e.Host == "" && e.Port == 0 && e.Name == "" && e.User == "" && e.Password == "")
}

// LoadDBEnv decodes the DB_* variables from the process environment.
func LoadDBEnv() (*DBEnv, error) {
	var env DBEnv
	if err := envconfig.Process("DB", &env); err != nil {
		return nil, fmt.Errorf("%w: %w", pgtally.ErrInvalidConfig, err)
	}
	return &env, nil
}
