package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgtally/internal/logging"
	"github.com/vvka-141/pgtally/internal/pipeline"
	"github.com/vvka-141/pgtally/internal/report"
	"github.com/vvka-141/pgtally/internal/stats"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

var runCmd = &cobra.Command{
	Use:   "run [data_dir]",
	Short: "Load the dated files in batches, then the validation file row by row",
	Long: `Run the full load.

The dated files (2012-1.csv through 2012-5.csv by default) are written in
micro-batches with one bulk insert per window. The validation file is then
written one row at a time. After each file the in-memory statistics are
printed; at each checkpoint they are compared with an aggregate query over
the table.

Settings are taken from flags first, then from pgtally.yaml in the data
directory, then from built-in defaults.

Examples:
  pgtally run ./data -d tally
  pgtally run ./data --connection "postgresql://postgres@localhost/tally" --create-table
  pgtally run ./data --first 1 --last 3 --no-validation --chunk-size 500`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

type runFlagValues struct {
	conn connFlags

	pattern         string
	first           int
	last            int
	validationFile  string
	noValidation    bool
	chunkSize       int
	table           string
	createTable     bool
	continueOnError bool
	skipVerify      bool
	strict          bool
	timeout         time.Duration
}

var runFlags runFlagValues

func init() {
	rootCmd.AddCommand(runCmd)

	addConnectionFlags(runCmd, &runFlags.conn)
	fs := runCmd.Flags()
	fs.StringVar(&runFlags.pattern, "pattern", "",
		"Dated file name pattern; %d receives the sequence number (default \"2012-%d.csv\")")
	fs.IntVar(&runFlags.first, "first", 0, "First sequence number (default 1)")
	fs.IntVar(&runFlags.last, "last", 0, "Last sequence number (default 5)")
	fs.StringVar(&runFlags.validationFile, "validation-file", "",
		"File loaded row by row after the dated files (default \"validation.csv\")")
	fs.BoolVar(&runFlags.noValidation, "no-validation", false, "Skip the validation file")
	fs.IntVar(&runFlags.chunkSize, "chunk-size", 0, "Rows per micro-batch window (default 1000)")
	fs.StringVar(&runFlags.table, "table", "", "Destination table (default \"transactions\")")
	fs.BoolVar(&runFlags.createTable, "create-table", false, "Create the destination table if it does not exist")
	fs.BoolVar(&runFlags.continueOnError, "continue-on-error", false,
		"Roll back a failing file and move on to the next one")
	fs.BoolVar(&runFlags.skipVerify, "skip-verify", false, "Do not query the table at checkpoints")
	fs.BoolVar(&runFlags.strict, "strict", false,
		"Fail when in-memory statistics differ from the table aggregate")
	fs.DurationVar(&runFlags.timeout, "timeout", 0, "Timeout for the whole run (default 30m)")
}

func runRun(cmd *cobra.Command, args []string) error {
	dataDir := pgtally.DefaultDataDir
	if len(args) == 1 {
		dataDir = args[0]
	}
	verbose := getVerboseFlag(cmd)

	info, err := os.Stat(dataDir)
	if err != nil {
		return fmt.Errorf("data directory %s: %w: %w", dataDir, pgtally.ErrInvalidConfig, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", dataDir, pgtally.ErrInvalidConfig)
	}

	project, err := loadProjectConfig(dataDir)
	if err != nil {
		return err
	}

	rc := &pgtally.RunConfig{
		DataDir:         dataDir,
		FilePattern:     runFlags.pattern,
		FirstFile:       runFlags.first,
		LastFile:        runFlags.last,
		ValidationFile:  runFlags.validationFile,
		ChunkSize:       runFlags.chunkSize,
		Table:           runFlags.table,
		CreateTable:     runFlags.createTable,
		ContinueOnError: runFlags.continueOnError,
		Timeout:         runFlags.timeout,
		Verbose:         verbose,
	}
	if err := project.ApplyDefaults(rc); err != nil {
		return err
	}
	applyRunDefaults(rc)
	if runFlags.noValidation {
		rc.ValidationFile = ""
	}

	rc.Connection, err = resolveConnection(&runFlags.conn, project)
	if err != nil {
		return err
	}
	if err := rc.Validate(); err != nil {
		return err
	}

	runID := report.NewRunID()
	logger := logging.NewConsoleLogger(verbose).WithRun(runID)
	printConnection(logger, rc.Connection)

	ctx, cancel := runContext(rc.Timeout)
	defer cancel()

	st, release, err := openStore(ctx, rc.Connection, rc.Table, logger)
	if err != nil {
		return err
	}
	defer release()

	if rc.CreateTable {
		if err := st.EnsureTable(ctx); err != nil {
			return err
		}
	}

	r := report.New(os.Stdout)
	r.Header(runID, "pgtally run: "+st.Table())

	return executeRun(ctx, rc, st, r, logger, runOptions{
		verify: !runFlags.skipVerify,
		strict: runFlags.strict,
	})
}

// applyRunDefaults fills whatever flags and pgtally.yaml left unset.
func applyRunDefaults(rc *pgtally.RunConfig) {
	if rc.FilePattern == "" {
		rc.FilePattern = pgtally.DefaultFilePattern
	}
	if rc.FirstFile == 0 {
		rc.FirstFile = pgtally.DefaultFirstFile
	}
	if rc.LastFile == 0 {
		rc.LastFile = pgtally.DefaultLastFile
	}
	if rc.ValidationFile == "" {
		rc.ValidationFile = pgtally.DefaultValidationFile
	}
	if rc.ChunkSize == 0 {
		rc.ChunkSize = pgtally.DefaultChunkSize
	}
	if rc.Table == "" {
		rc.Table = pgtally.DefaultTable
	}
	if rc.Timeout == 0 {
		rc.Timeout = pgtally.DefaultTimeout
	}
}

// runContext bounds the run by timeout and cancels it on SIGINT or SIGTERM.
func runContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\n[INTERRUPT] Received interrupt signal, rolling back the current file...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

type runOptions struct {
	verify bool
	strict bool
}

// executeRun drives both phases against an open store. Statistics are
// printed after every committed file; checkpoints compare them with the
// store when opts.verify is set.
func executeRun(ctx context.Context, rc *pgtally.RunConfig, st pgtally.Store, r *report.Renderer, logger pgtally.Logger, opts runOptions) error {
	proc := pipeline.NewProcessor(st, stats.New(), logger)
	proc.OnFileDone(func(res pipeline.FileResult) {
		if res.Err == nil {
			r.Snapshot("After "+res.File, proc.Stats())
		}
	})

	dated := presentFiles(rc.DatedFiles(), logger)
	jobs := make([]pipeline.Job, 0, len(dated))
	for _, path := range dated {
		jobs = append(jobs, pipeline.Job{Path: path, Policy: pipeline.Batch})
	}

	summary, loadErr := proc.ProcessAll(ctx, jobs, rc.ChunkSize, rc.ContinueOnError)
	if loadErr != nil && !rc.ContinueOnError {
		r.Files(summary)
		return loadErr
	}
	errs := []error{loadErr}

	before := proc.Stats()
	if opts.verify {
		errs = append(errs, checkpoint(ctx, proc, r, before, opts.strict))
	}

	if path := rc.ValidationPath(); path != "" && len(presentFiles([]string{path}, logger)) == 1 {
		vs, err := proc.ProcessAll(ctx, []pipeline.Job{{Path: path, Policy: pipeline.RowByRow}}, rc.ChunkSize, rc.ContinueOnError)
		summary.Files = append(summary.Files, vs.Files...)
		summary.Rows += vs.Rows
		if err != nil && !rc.ContinueOnError {
			r.Files(summary)
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs, err)

		after := proc.Stats()
		r.Delta("Change from "+rc.ValidationFile, before, after)
		if opts.verify {
			errs = append(errs, checkpoint(ctx, proc, r, after, opts.strict))
		}
	}

	r.Files(summary)
	if failed := summary.Failed(); len(failed) > 0 {
		logger.Error("%d of %d files failed", len(failed), len(summary.Files))
	} else {
		logger.Info("Loaded %d rows from %d files", summary.Rows, len(summary.Files))
	}
	return errors.Join(errs...)
}

// presentFiles drops the paths that do not exist. Any other stat failure
// keeps the path so that loading it reports the real error.
func presentFiles(paths []string, logger pgtally.Logger) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger.Info("%s not found, skipping", filepath.Base(path))
			continue
		}
		out = append(out, path)
	}
	return out
}

// checkpoint compares mem with the store aggregate. A mismatch is only an
// error in strict mode; tables that already held rows never match.
func checkpoint(ctx context.Context, proc *pipeline.Processor, r *report.Renderer, mem pgtally.Snapshot, strict bool) error {
	dbStats, err := proc.Verify(ctx)
	if err != nil {
		return err
	}
	if r.Comparison(mem, dbStats) {
		return nil
	}
	if strict {
		return fmt.Errorf("in-memory statistics differ from the store: %w", pgtally.ErrVerification)
	}
	return nil
}
