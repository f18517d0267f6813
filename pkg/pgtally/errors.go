package pgtally

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
// These enable callers to distinguish error types using errors.Is().
//
// Example usage:
//
//	_, err := processor.ProcessFile(ctx, path, 1000, false)
//	if errors.Is(err, pgtally.ErrParse) {
//	    // skip to the next file
//	}
var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the store is unreachable or rejected authentication.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrParse indicates a malformed date or number in an input row.
	ErrParse = errors.New("parse failed")

	// ErrWrite indicates a bulk or single insert was rejected by the store.
	ErrWrite = errors.New("write failed")

	// ErrVerification indicates the aggregate query against the store failed.
	ErrVerification = errors.New("verification query failed")

	// ErrUnsupportedAuthMethod indicates the requested authentication method is not supported.
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")
)

// ParseError describes a single malformed input value.
// It matches ErrParse with errors.Is.
type ParseError struct {
	File   string
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: row %d: column %q: cannot parse %q: %v", e.File, e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError (1) for unclassified errors.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnsupportedAuthMethod):
		return ExitConfigError
	case errors.Is(err, ErrConnectionFailed):
		return ExitConnectionError
	case errors.Is(err, ErrParse):
		return ExitParseError
	case errors.Is(err, ErrWrite):
		return ExitWriteError
	case errors.Is(err, ErrVerification):
		return ExitVerificationError
	}

	// Cobra reports usage problems as plain errors
	errStr := err.Error()
	for _, prefix := range []string{"unknown flag", "unknown shorthand flag", "unknown command", "accepts ", "requires at least", "required flag", "invalid argument"} {
		if strings.HasPrefix(errStr, prefix) {
			return ExitUsageError
		}
	}

	if strings.Contains(errStr, "failed to connect") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return ExitConnectionError
	}

	return ExitGeneralError
}
