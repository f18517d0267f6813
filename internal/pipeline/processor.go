// Package pipeline drives input files through the store and the statistics
// accumulator in fixed-size micro-batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/vvka-141/pgtally/internal/source"
	"github.com/vvka-141/pgtally/internal/stats"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// Policy selects how a file's rows reach the store.
type Policy int

const (
	// Batch writes each window in one bulk operation and folds the whole
	// price column into the statistics at once.
	Batch Policy = iota
	// RowByRow writes and folds one record at a time.
	RowByRow
)

func (p Policy) String() string {
	if p == RowByRow {
		return "row-by-row"
	}
	return "batch"
}

// Processor loads files into a Store and keeps running statistics of every
// committed price.
//
// Thread-Safety: NOT safe for concurrent use. The run is single-threaded and
// the Store wraps one connection.
type Processor struct {
	store            pgtally.Store
	acc              *stats.Accumulator
	logger           pgtally.Logger
	progressInterval int
	onFile           func(FileResult)
}

// NewProcessor creates a Processor. Panics on nil dependencies.
func NewProcessor(store pgtally.Store, acc *stats.Accumulator, logger pgtally.Logger) *Processor {
	if store == nil {
		panic("store cannot be nil")
	}
	if acc == nil {
		panic("accumulator cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Processor{
		store:            store,
		acc:              acc,
		logger:           logger,
		progressInterval: pgtally.ProgressLogInterval,
	}
}

// Stats returns the statistics of everything committed so far.
func (p *Processor) Stats() pgtally.Snapshot {
	return p.acc.Snapshot()
}

// OnFileDone registers fn to be called by ProcessAll after every file,
// successful or not. Replaces any earlier hook.
func (p *Processor) OnFileDone(fn func(FileResult)) {
	p.onFile = fn
}

// ProcessFile loads one file inside a single transaction and returns the
// number of rows written. On any failure the transaction is rolled back and
// the run statistics are left untouched.
func (p *Processor) ProcessFile(ctx context.Context, path string, chunkSize int, policy Policy) (int, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunk size must be positive, got %d: %w", chunkSize, pgtally.ErrInvalidConfig)
	}

	src, err := source.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	p.logger.Verbose("Processing %s (%d rows, %s, chunk=%d)", src.Name(), src.Len(), policy, chunkSize)

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for %s: %w: %w", src.Name(), pgtally.ErrWrite, err)
	}

	staged := stats.New()
	rows, err := p.load(ctx, src, tx, staged, chunkSize, policy)
	if err == nil {
		if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("failed to commit %s: %w: %w", src.Name(), pgtally.ErrWrite, cerr)
		}
	}
	if err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback of %s failed: %w", src.Name(), rbErr))
		}
		return 0, err
	}

	p.acc.Merge(staged)
	p.logger.Info("Committed %s: %d rows", src.Name(), rows)
	return rows, nil
}

func (p *Processor) load(ctx context.Context, src *source.Source, tx pgtally.StoreTx, staged *stats.Accumulator, chunkSize int, policy Policy) (int, error) {
	rows := 0
	for offset := 0; ; offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		w, err := src.Slice(offset, chunkSize)
		if err != nil {
			return rows, err
		}
		if w.Len() == 0 {
			w.Release()
			return rows, nil
		}

		n, err := p.writeWindow(ctx, tx, staged, w, policy)
		w.Release()
		if err != nil {
			return rows, err
		}

		before := rows
		rows += n
		if p.progressInterval > 0 && rows/p.progressInterval > before/p.progressInterval {
			p.logger.Info("%s: %d rows processed", src.Name(), rows)
		}
	}
}

func (p *Processor) writeWindow(ctx context.Context, tx pgtally.StoreTx, staged *stats.Accumulator, w *source.Window, policy Policy) (int, error) {
	w.FillNullPrice(0)

	records, err := w.Records()
	if err != nil {
		return 0, err
	}

	if policy == RowByRow {
		for i, rec := range records {
			if err := tx.ExecuteSingle(ctx, rec); err != nil {
				return i, fmt.Errorf("failed to write row %d of %s: %w: %w", w.Offset()+i+1, rec.SourceFile, pgtally.ErrWrite, err)
			}
			staged.Update([]float64{rec.Price})
		}
		return len(records), nil
	}

	if err := tx.ExecuteBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to write rows %d-%d: %w: %w", w.Offset()+1, w.Offset()+len(records), pgtally.ErrWrite, err)
	}
	staged.Update(w.Prices())
	return len(records), nil
}

// Verify asks the store for its own aggregate of all committed rows.
// It never reads or changes the in-memory statistics.
func (p *Processor) Verify(ctx context.Context) (pgtally.Snapshot, error) {
	snap, err := p.store.Aggregate(ctx)
	if err != nil {
		return pgtally.Snapshot{}, fmt.Errorf("%w: %w", pgtally.ErrVerification, err)
	}
	return snap, nil
}

// Job is one file to load and the policy to load it with.
type Job struct {
	Path   string
	Policy Policy
}

// FileResult records the outcome of one Job.
type FileResult struct {
	File     string
	Policy   Policy
	Rows     int
	Duration time.Duration
	Err      error
}

// Summary collects the outcome of a ProcessAll call.
type Summary struct {
	Files []FileResult
	Rows  int
}

// Failed returns the results that ended in an error.
func (s Summary) Failed() []FileResult {
	var out []FileResult
	for _, f := range s.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// ProcessAll runs jobs in order. Without continueOnError the first failing
// file stops the run and its error is returned; with it, failures are
// recorded in the summary and the run moves on.
func (p *Processor) ProcessAll(ctx context.Context, jobs []Job, chunkSize int, continueOnError bool) (Summary, error) {
	var summary Summary
	var errs []error

	for _, job := range jobs {
		start := time.Now()
		rows, err := p.ProcessFile(ctx, job.Path, chunkSize, job.Policy)
		result := FileResult{
			File:     filepath.Base(job.Path),
			Policy:   job.Policy,
			Rows:     rows,
			Duration: time.Since(start),
			Err:      err,
		}
		summary.Files = append(summary.Files, result)
		summary.Rows += rows
		if p.onFile != nil {
			p.onFile(result)
		}

		if err == nil {
			continue
		}
		p.logger.Error("%s: %v", filepath.Base(job.Path), err)
		if !continueOnError || ctx.Err() != nil {
			return summary, err
		}
		errs = append(errs, err)
	}

	return summary, errors.Join(errs...)
}
