package pgtally

import "time"

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3+: Application-specific errors
const (
	ExitSuccess           = 0  // Run completed successfully
	ExitGeneralError      = 1  // Unknown or unclassified error
	ExitUsageError        = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic             = 3  // Internal panic (unexpected crash)
	ExitConfigError       = 10 // Invalid configuration
	ExitConnectionError   = 11 // Failed to connect to database
	ExitParseError        = 12 // Malformed input row
	ExitWriteError        = 13 // Insert rejected by the store
	ExitVerificationError = 14 // Aggregate query against the store failed
)

const (
	// DefaultChunkSize is the number of rows per micro-batch window.
	DefaultChunkSize = 1000

	// DateLayout is the layout of the date column (month/day/year).
	// Month and day may be zero-padded or not: both 6/1/2012 and 06/01/2012 parse.
	DateLayout = "1/2/2006"

	// DefaultTable is the append-only table receiving transaction rows.
	DefaultTable = "transactions"

	// DefaultDataDir is the directory scanned by the run command.
	DefaultDataDir = "./data"

	// DefaultFilePattern is the naming convention of the dated input files.
	// The single %d verb receives the file sequence number.
	DefaultFilePattern = "2012-%d.csv"

	// DefaultFirstFile and DefaultLastFile bound the sequence numbers fed to DefaultFilePattern.
	DefaultFirstFile = 1
	DefaultLastFile  = 5

	// DefaultValidationFile is processed last, one row at a time.
	DefaultValidationFile = "validation.csv"

	// ProgressLogInterval is the row count between progress log lines.
	ProgressLogInterval = 10000

	// DefaultRetryInitialDelay is the default initial delay before the first retry attempt.
	DefaultRetryInitialDelay = 100 * time.Millisecond

	// DefaultRetryMaxDelay is the default maximum delay between retry attempts.
	DefaultRetryMaxDelay = 1 * time.Minute

	// DefaultRetryMaxAttempts is the default maximum number of connection retry attempts.
	DefaultRetryMaxAttempts = 3

	// DefaultTimeout bounds an entire run.
	DefaultTimeout = 30 * time.Minute

	// DefaultManagementDB is the database used when none is configured.
	DefaultManagementDB = "postgres"
)
