package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pgtally",
	Short: "Micro-batch transaction loader with in-memory running statistics",
	Long: `pgtally loads delimited transaction files into PostgreSQL in fixed-size
micro-batches, one transaction per file, and keeps count, mean, min and max
of the price column in memory as rows are committed.

The in-memory figures can be cross-checked against a single aggregate query
over the table at any point.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Database connection failed
  12 - Malformed input row
  13 - Insert rejected by the database
  14 - Verification query failed or statistics mismatch`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvFile,
}

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo()
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	// -h is taken by --host, so help gets no shorthand
	rootCmd.PersistentFlags().Bool("help", false, "Help for pgtally")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for all commands")
	rootCmd.PersistentFlags().String("env-file", ".env",
		"Load environment variables from this file before resolving configuration")
}

// loadEnvFile applies --env-file. A missing default .env is not an error;
// a missing file named explicitly is.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("env-file")
	if err != nil || path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}
