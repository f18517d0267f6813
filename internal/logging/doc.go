// Package logging provides concrete implementations of the pgtally.Logger interface.
//
// Available implementations:
//   - ConsoleLogger: human-readable zerolog output on stderr
//   - NullLogger: Discards all messages (useful for testing)
//
// All logger implementations are safe for concurrent use by multiple goroutines.
package logging
