package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtally/internal/logging"
	"github.com/vvka-141/pgtally/internal/report"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Print count, mean, min and max of the price column as stored",
	Long: `Run the verification aggregate against the table and print it.

This is the figure the in-memory statistics of a run are compared with.

Examples:
  pgtally verify -d tally
  pgtally verify --connection "postgresql://postgres@localhost/tally" --table transactions`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

type verifyFlagValues struct {
	conn    connFlags
	table   string
	timeout time.Duration
}

var verifyFlags verifyFlagValues

func init() {
	rootCmd.AddCommand(verifyCmd)

	addConnectionFlags(verifyCmd, &verifyFlags.conn)
	verifyCmd.Flags().StringVar(&verifyFlags.table, "table", pgtally.DefaultTable, "Table to aggregate")
	verifyCmd.Flags().DurationVar(&verifyFlags.timeout, "timeout", time.Minute, "Timeout for the query")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	verbose := getVerboseFlag(cmd)

	if !pgtally.ValidIdentifier(verifyFlags.table) {
		return fmt.Errorf("table %q is not a valid identifier: %w", verifyFlags.table, pgtally.ErrInvalidConfig)
	}

	project, err := loadProjectConfig(".")
	if err != nil {
		return err
	}
	connCfg, err := resolveConnection(&verifyFlags.conn, project)
	if err != nil {
		return err
	}

	logger := logging.NewConsoleLogger(verbose)
	printConnection(logger, connCfg)

	ctx, cancel := runContext(verifyFlags.timeout)
	defer cancel()

	st, release, err := openStore(ctx, connCfg, verifyFlags.table, logger)
	if err != nil {
		return err
	}
	defer release()

	snap, err := st.Aggregate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", pgtally.ErrVerification, err)
	}

	report.New(os.Stdout).Snapshot("Store: "+st.Table(), snap)
	return nil
}
