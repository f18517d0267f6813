package db

import (
	"fmt"
	"strings"
)

// wrapConnectionError adds actionable guidance to raw pgx connection errors.
// The original error stays in the chain for classification.
func wrapConnectionError(err error, host string, port int, database string) error {
	msg := strings.ToLower(err.Error())
	addr := fmt.Sprintf("%s:%d", host, port)

	switch {
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "actively refused"):
		return fmt.Errorf(`connection refused to %s

Possible causes:
  - PostgreSQL is not running (check: pg_isready -h %s -p %d)
  - Wrong host or port (check DB_HOST/DB_PORT or -h/-p)

Original error: %w`, addr, host, port, err)

	case strings.Contains(msg, "no such host"):
		return fmt.Errorf(`cannot resolve host %q

Possible causes:
  - Hostname is misspelled
  - DNS is not reachable

Original error: %w`, host, err)

	case strings.Contains(msg, "password authentication failed"):
		return fmt.Errorf(`password authentication failed for database %q

Possible causes:
  - Wrong password (check DB_PASSWORD, $PGPASSWORD or ~/.pgpass)
  - Wrong username

Original error: %w`, database, err)

	case strings.Contains(msg, "does not exist"):
		return fmt.Errorf(`database %q does not exist

To create it:
  createdb %s

Original error: %w`, database, database, err)

	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return fmt.Errorf(`connection timed out to %s

Possible causes:
  - Server is overloaded or unresponsive
  - Firewall silently dropping packets

Original error: %w`, addr, err)

	case strings.Contains(msg, "ssl") || strings.Contains(msg, "tls"):
		return fmt.Errorf(`SSL/TLS connection error

Possible causes:
  - Server requires SSL but --sslmode is wrong
  - Certificate verification failed (try --sslmode=require)

Original error: %w`, err)

	default:
		return fmt.Errorf("failed to connect to database: %w", err)
	}
}
