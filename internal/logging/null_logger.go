package logging

import "github.com/vvka-141/pgtally/pkg/pgtally"

var _ pgtally.Logger = (*NullLogger)(nil)

// NullLogger drops every message. Tests and library callers that do their
// own reporting use it where a pgtally.Logger is required.
type NullLogger struct{}

func NewNullLogger() *NullLogger {
	return &NullLogger{}
}

func (*NullLogger) Verbose(string, ...interface{}) {}

func (*NullLogger) Info(string, ...interface{}) {}

func (*NullLogger) Error(string, ...interface{}) {}
