package pgtally

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TransactionRecord is one parsed input row, ready for storage.
// Records are values; nothing mutates them after parsing.
type TransactionRecord struct {
	Timestamp  time.Time // date only, UTC midnight
	Price      float64
	SubjectID  string
	SourceFile string // base name of the file the row came from
}

// Snapshot is a point-in-time view of aggregate statistics.
// Both the in-memory accumulator and the store verification query report in this shape.
// Min and Max are 0 when Count is 0.
type Snapshot struct {
	Count uint64
	Mean  float64
	Min   float64
	Max   float64
}

// RunConfig contains all parameters needed for a load run.
type RunConfig struct {
	// DataDir holds the dated input files and the validation file
	DataDir string

	// FilePattern names the dated files; a single %d receives the sequence number
	FilePattern string

	// FirstFile and LastFile bound the sequence numbers (inclusive)
	FirstFile int
	LastFile  int

	// ValidationFile is processed row by row after the dated files; empty disables it
	ValidationFile string

	// ChunkSize is the micro-batch window size
	ChunkSize int

	// Table is the destination table
	Table string

	// CreateTable issues CREATE TABLE IF NOT EXISTS before loading
	CreateTable bool

	// ContinueOnError moves on to the next file when one file fails
	ContinueOnError bool

	// Timeout bounds the whole run
	Timeout time.Duration

	// Verbose enables detailed logging
	Verbose bool

	// Connection holds resolved connection parameters
	Connection *ConnectionConfig
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidIdentifier reports whether name is a plain (optionally schema-qualified) SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Validate checks if the RunConfig has all required fields and valid values.
// It returns a multi-error if multiple validation failures occur.
func (c *RunConfig) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("DataDir is required: %w", ErrInvalidConfig))
	}

	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d: %w", c.ChunkSize, ErrInvalidConfig))
	}

	if strings.Count(c.FilePattern, "%d") != 1 {
		errs = append(errs, fmt.Errorf("file pattern %q must contain exactly one %%d: %w", c.FilePattern, ErrInvalidConfig))
	}

	if c.FirstFile > c.LastFile {
		errs = append(errs, fmt.Errorf("first file %d is after last file %d: %w", c.FirstFile, c.LastFile, ErrInvalidConfig))
	}

	if !ValidIdentifier(c.Table) {
		errs = append(errs, fmt.Errorf("table %q is not a valid identifier: %w", c.Table, ErrInvalidConfig))
	}

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout cannot be negative: %w", ErrInvalidConfig))
	}

	if c.Connection == nil {
		errs = append(errs, fmt.Errorf("connection is required: %w", ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

// DatedFiles returns the paths of the dated input files in processing order.
func (c *RunConfig) DatedFiles() []string {
	if c.LastFile < c.FirstFile {
		return nil
	}
	files := make([]string, 0, c.LastFile-c.FirstFile+1)
	for i := c.FirstFile; i <= c.LastFile; i++ {
		files = append(files, filepath.Join(c.DataDir, fmt.Sprintf(c.FilePattern, i)))
	}
	return files
}

// ValidationPath returns the path of the validation file, or "" when disabled.
func (c *RunConfig) ValidationPath() string {
	if c.ValidationFile == "" {
		return ""
	}
	return filepath.Join(c.DataDir, c.ValidationFile)
}

// ConnectionConfig represents parsed connection parameters.
type ConnectionConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string

	// AuthMethod indicates the authentication mechanism to use
	AuthMethod AuthMethod

	// Additional connection parameters
	AppName          string
	ConnectTimeout   time.Duration
	AdditionalParams map[string]string

	// Azure Entra ID: all three set selects Service Principal auth,
	// otherwise the DefaultAzureCredential chain is used.
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string

	// AWSRegion is required for AWS RDS IAM authentication
	AWSRegion string

	// GoogleInstance is the Cloud SQL instance connection name (project:region:instance)
	GoogleInstance string
}

// AuthMethod represents the type of authentication to use.
type AuthMethod int

const (
	AuthMethodStandard     AuthMethod = iota // Username/Password
	AuthMethodAWSIAM                         // AWS IAM Database Authentication
	AuthMethodGoogleIAM                      // Google Cloud SQL IAM
	AuthMethodAzureEntraID                   // Azure Active Directory (Entra ID)
)

func (m AuthMethod) String() string {
	switch m {
	case AuthMethodStandard:
		return "standard"
	case AuthMethodAWSIAM:
		return "aws"
	case AuthMethodGoogleIAM:
		return "google"
	case AuthMethodAzureEntraID:
		return "azure"
	default:
		return fmt.Sprintf("AuthMethod(%d)", int(m))
	}
}

// ParseAuthMethod maps a configuration string to an AuthMethod.
// The empty string selects standard authentication.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "password":
		return AuthMethodStandard, nil
	case "aws", "aws-iam":
		return AuthMethodAWSIAM, nil
	case "google", "gcp", "google-iam":
		return AuthMethodGoogleIAM, nil
	case "azure", "entra", "azure-entra-id":
		return AuthMethodAzureEntraID, nil
	default:
		return AuthMethodStandard, fmt.Errorf("%q: %w", s, ErrUnsupportedAuthMethod)
	}
}
