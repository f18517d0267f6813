package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtally/internal/logging"
	"github.com/vvka-141/pgtally/internal/pipeline"
	"github.com/vvka-141/pgtally/internal/report"
	"github.com/vvka-141/pgtally/internal/stats"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>...",
	Short: "Load explicit files into the table",
	Long: `Load one or more files, each in its own transaction.

Files are written in micro-batches unless --row-by-row is given. Statistics
cover only the files of this invocation.

Examples:
  pgtally load data/2012-1.csv data/2012-2.csv -d tally
  pgtally load data/validation.csv --row-by-row --verify`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

type loadFlagValues struct {
	conn connFlags

	chunkSize       int
	table           string
	createTable     bool
	rowByRow        bool
	continueOnError bool
	verify          bool
	timeout         time.Duration
}

var loadFlags loadFlagValues

func init() {
	rootCmd.AddCommand(loadCmd)

	addConnectionFlags(loadCmd, &loadFlags.conn)
	fs := loadCmd.Flags()
	fs.IntVar(&loadFlags.chunkSize, "chunk-size", pgtally.DefaultChunkSize, "Rows per micro-batch window")
	fs.StringVar(&loadFlags.table, "table", pgtally.DefaultTable, "Destination table")
	fs.BoolVar(&loadFlags.createTable, "create-table", false, "Create the destination table if it does not exist")
	fs.BoolVar(&loadFlags.rowByRow, "row-by-row", false, "Insert one row at a time instead of one bulk write per window")
	fs.BoolVar(&loadFlags.continueOnError, "continue-on-error", false,
		"Roll back a failing file and move on to the next one")
	fs.BoolVar(&loadFlags.verify, "verify", false, "Compare the statistics with the table aggregate afterwards")
	fs.DurationVar(&loadFlags.timeout, "timeout", pgtally.DefaultTimeout, "Timeout for the whole load")
}

func runLoad(cmd *cobra.Command, args []string) error {
	verbose := getVerboseFlag(cmd)

	if loadFlags.chunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d: %w", loadFlags.chunkSize, pgtally.ErrInvalidConfig)
	}
	if !pgtally.ValidIdentifier(loadFlags.table) {
		return fmt.Errorf("table %q is not a valid identifier: %w", loadFlags.table, pgtally.ErrInvalidConfig)
	}
	for _, path := range args {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("input file %s: %w: %w", path, pgtally.ErrInvalidConfig, err)
		}
	}

	project, err := loadProjectConfig(filepath.Dir(args[0]))
	if err != nil {
		return err
	}
	connCfg, err := resolveConnection(&loadFlags.conn, project)
	if err != nil {
		return err
	}

	runID := report.NewRunID()
	logger := logging.NewConsoleLogger(verbose).WithRun(runID)
	printConnection(logger, connCfg)

	ctx, cancel := runContext(loadFlags.timeout)
	defer cancel()

	st, release, err := openStore(ctx, connCfg, loadFlags.table, logger)
	if err != nil {
		return err
	}
	defer release()

	if loadFlags.createTable {
		if err := st.EnsureTable(ctx); err != nil {
			return err
		}
	}

	policy := pipeline.Batch
	if loadFlags.rowByRow {
		policy = pipeline.RowByRow
	}
	jobs := make([]pipeline.Job, len(args))
	for i, path := range args {
		jobs[i] = pipeline.Job{Path: path, Policy: policy}
	}

	r := report.New(os.Stdout)
	r.Header(runID, "pgtally load: "+st.Table())

	proc := pipeline.NewProcessor(st, stats.New(), logger)
	summary, err := proc.ProcessAll(ctx, jobs, loadFlags.chunkSize, loadFlags.continueOnError)
	r.Files(summary)
	r.Snapshot("Statistics", proc.Stats())
	if err != nil {
		return err
	}

	if loadFlags.verify {
		return checkpoint(ctx, proc, r, proc.Stats(), false)
	}
	return nil
}
