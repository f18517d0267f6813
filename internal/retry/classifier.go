package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes that mean "the server could not take us right now".
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
var transientClasses = []string{
	"08", // connection exception
	"53", // insufficient resources, includes too_many_connections
	"57", // operator intervention, includes cannot_connect_now during startup
}

// query_canceled sits in class 57 but is caused by the client.
const pgCodeQueryCanceled = "57014"

var transientErrnos = []error{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
}

// Fallback for drivers and proxies that only surface text.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"too many connections",
	"server closed the connection",
	"the database system is starting up",
	"unexpected eof",
}

// ConnectionClassifier recognizes transient PostgreSQL connection failures.
type ConnectionClassifier struct{}

// NewConnectionClassifier creates a ConnectionClassifier.
func NewConnectionClassifier() *ConnectionClassifier {
	return &ConnectionClassifier{}
}

// IsTransient reports whether err is worth another connection attempt.
// Authentication and configuration errors are never transient.
func (c *ConnectionClassifier) IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientCode(pgErr.Code)
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTemporary {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

func isTransientCode(code string) bool {
	if code == pgCodeQueryCanceled {
		return false
	}
	for _, class := range transientClasses {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}
