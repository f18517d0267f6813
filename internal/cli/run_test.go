package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtally/internal/logging"
	"github.com/vvka-141/pgtally/internal/report"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// tallyStore keeps committed prices in memory and aggregates them the way
// the verification query does.
type tallyStore struct {
	prices       []float64
	preexisting  []float64
	aggregateErr error
	aggregates   int
}

func (s *tallyStore) Begin(_ context.Context) (pgtally.StoreTx, error) {
	return &tallyTx{store: s}, nil
}

func (s *tallyStore) Aggregate(_ context.Context) (pgtally.Snapshot, error) {
	s.aggregates++
	if s.aggregateErr != nil {
		return pgtally.Snapshot{}, s.aggregateErr
	}
	all := append(append([]float64{}, s.preexisting...), s.prices...)
	if len(all) == 0 {
		return pgtally.Snapshot{}, nil
	}
	snap := pgtally.Snapshot{Count: uint64(len(all)), Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, p := range all {
		sum += p
		snap.Min = math.Min(snap.Min, p)
		snap.Max = math.Max(snap.Max, p)
	}
	snap.Mean = math.Round(sum/float64(len(all))*100) / 100
	return snap, nil
}

func (s *tallyStore) Close() error { return nil }

type tallyTx struct {
	store   *tallyStore
	pending []float64
}

func (t *tallyTx) ExecuteBatch(_ context.Context, records []pgtally.TransactionRecord) error {
	for _, r := range records {
		t.pending = append(t.pending, r.Price)
	}
	return nil
}

func (t *tallyTx) ExecuteSingle(_ context.Context, r pgtally.TransactionRecord) error {
	t.pending = append(t.pending, r.Price)
	return nil
}

func (t *tallyTx) Commit(_ context.Context) error {
	t.store.prices = append(t.store.prices, t.pending...)
	t.pending = nil
	return nil
}

func (t *tallyTx) Rollback(_ context.Context) error {
	t.pending = nil
	return nil
}

func writeCSV(t *testing.T, dir, name string, prices ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,price,user_id\n")
	for i, p := range prices {
		fmt.Fprintf(&b, "01/%02d/2012,%s,%d\n", i%28+1, p, i+1)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644))
}

func testRunConfig(dir string) *pgtally.RunConfig {
	rc := &pgtally.RunConfig{DataDir: dir, LastFile: 2}
	applyRunDefaults(rc)
	return rc
}

func TestExecuteRun_BothPhasesMatchStore(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "10", "20", "")
	writeCSV(t, dir, "2012-2.csv", "5.5", "7")
	writeCSV(t, dir, "validation.csv", "100", "1")

	st := &tallyStore{}
	var out bytes.Buffer
	err := executeRun(context.Background(), testRunConfig(dir), st, report.NewPlain(&out), logging.NewNullLogger(),
		runOptions{verify: true})

	require.NoError(t, err)
	assert.Len(t, st.prices, 7)
	assert.Equal(t, 2, st.aggregates)

	text := out.String()
	assert.Contains(t, text, "== After 2012-1.csv ==")
	assert.Contains(t, text, "== After 2012-2.csv ==")
	assert.Contains(t, text, "== After validation.csv ==")
	assert.Contains(t, text, "== Change from validation.csv ==")
	assert.Contains(t, text, "== Files ==")
	assert.Equal(t, 2, strings.Count(text, "MATCH"))
	assert.NotContains(t, text, "MISMATCH")
}

func TestExecuteRun_SkipVerify(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1")
	writeCSV(t, dir, "2012-2.csv", "2")
	writeCSV(t, dir, "validation.csv", "3")

	st := &tallyStore{}
	var out bytes.Buffer
	err := executeRun(context.Background(), testRunConfig(dir), st, report.NewPlain(&out), logging.NewNullLogger(),
		runOptions{})

	require.NoError(t, err)
	assert.Zero(t, st.aggregates)
	assert.NotContains(t, out.String(), "Memory vs store")
}

func TestExecuteRun_NoValidationFile(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1")
	writeCSV(t, dir, "2012-2.csv", "2")

	rc := testRunConfig(dir)
	rc.ValidationFile = ""

	st := &tallyStore{}
	var out bytes.Buffer
	err := executeRun(context.Background(), rc, st, report.NewPlain(&out), logging.NewNullLogger(), runOptions{verify: true})

	require.NoError(t, err)
	assert.Equal(t, 1, st.aggregates)
	assert.NotContains(t, out.String(), "Change from")
}

func TestExecuteRun_StopsOnFailedFile(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1", "oops")
	writeCSV(t, dir, "2012-2.csv", "2")
	writeCSV(t, dir, "validation.csv", "3")

	st := &tallyStore{}
	var out bytes.Buffer
	err := executeRun(context.Background(), testRunConfig(dir), st, report.NewPlain(&out), logging.NewNullLogger(),
		runOptions{verify: true})

	require.Error(t, err)
	assert.True(t, errors.Is(err, pgtally.ErrParse))
	assert.Equal(t, pgtally.ExitParseError, pgtally.ExitCodeForError(err))
	assert.Empty(t, st.prices)
	assert.Zero(t, st.aggregates)
	assert.Contains(t, out.String(), "FAILED")
}

func TestExecuteRun_ContinueOnError(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1", "oops")
	writeCSV(t, dir, "2012-2.csv", "2")
	writeCSV(t, dir, "validation.csv", "3")

	rc := testRunConfig(dir)
	rc.ContinueOnError = true

	st := &tallyStore{}
	var out bytes.Buffer
	err := executeRun(context.Background(), rc, st, report.NewPlain(&out), logging.NewNullLogger(), runOptions{verify: true})

	require.Error(t, err)
	assert.True(t, errors.Is(err, pgtally.ErrParse))
	assert.Equal(t, []float64{2, 3}, st.prices)
	assert.Equal(t, 2, st.aggregates)
}

func TestExecuteRun_Mismatch(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1")
	writeCSV(t, dir, "2012-2.csv", "2")

	rc := testRunConfig(dir)
	rc.ValidationFile = ""

	t.Run("reported only", func(t *testing.T) {
		st := &tallyStore{preexisting: []float64{50}}
		var out bytes.Buffer
		err := executeRun(context.Background(), rc, st, report.NewPlain(&out), logging.NewNullLogger(), runOptions{verify: true})

		require.NoError(t, err)
		assert.Contains(t, out.String(), "MISMATCH")
	})

	t.Run("strict fails", func(t *testing.T) {
		st := &tallyStore{preexisting: []float64{50}}
		var out bytes.Buffer
		err := executeRun(context.Background(), rc, st, report.NewPlain(&out), logging.NewNullLogger(),
			runOptions{verify: true, strict: true})

		require.Error(t, err)
		assert.Equal(t, pgtally.ExitVerificationError, pgtally.ExitCodeForError(err))
	})
}

func TestExecuteRun_AggregateFailure(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1")
	writeCSV(t, dir, "2012-2.csv", "2")
	writeCSV(t, dir, "validation.csv", "3")

	st := &tallyStore{aggregateErr: errors.New("relation does not exist")}
	var out bytes.Buffer
	err := executeRun(context.Background(), testRunConfig(dir), st, report.NewPlain(&out), logging.NewNullLogger(),
		runOptions{verify: true})

	require.Error(t, err)
	assert.True(t, errors.Is(err, pgtally.ErrVerification))
	assert.Equal(t, []float64{1, 2, 3}, st.prices, "verification failures never undo loaded files")
}

func TestApplyRunDefaults(t *testing.T) {
	rc := &pgtally.RunConfig{}
	applyRunDefaults(rc)

	assert.Equal(t, pgtally.DefaultFilePattern, rc.FilePattern)
	assert.Equal(t, pgtally.DefaultFirstFile, rc.FirstFile)
	assert.Equal(t, pgtally.DefaultLastFile, rc.LastFile)
	assert.Equal(t, pgtally.DefaultValidationFile, rc.ValidationFile)
	assert.Equal(t, pgtally.DefaultChunkSize, rc.ChunkSize)
	assert.Equal(t, pgtally.DefaultTable, rc.Table)
	assert.Equal(t, pgtally.DefaultTimeout, rc.Timeout)

	custom := &pgtally.RunConfig{FirstFile: 3, ChunkSize: 10, Table: "t"}
	applyRunDefaults(custom)
	assert.Equal(t, 3, custom.FirstFile)
	assert.Equal(t, pgtally.DefaultLastFile, custom.LastFile)
	assert.Equal(t, 10, custom.ChunkSize)
	assert.Equal(t, "t", custom.Table)
}

type captureLogger struct {
	lines []string
}

func (l *captureLogger) Verbose(format string, args ...interface{}) {}

func (l *captureLogger) Info(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) Error(format string, args ...interface{}) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestExecuteRun_SkipsMissingDatedFile(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1")
	writeCSV(t, dir, "2012-2.csv", "2")
	writeCSV(t, dir, "2012-4.csv", "4")
	writeCSV(t, dir, "validation.csv", "5")

	rc := testRunConfig(dir)
	rc.LastFile = 4

	st := &tallyStore{}
	logger := &captureLogger{}
	var out bytes.Buffer
	err := executeRun(context.Background(), rc, st, report.NewPlain(&out), logger, runOptions{verify: true})

	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 4, 5}, st.prices)
	assert.Contains(t, logger.lines, "2012-3.csv not found, skipping")
	assert.NotContains(t, out.String(), "2012-3.csv")
	assert.NotContains(t, out.String(), "FAILED")
}

func TestExecuteRun_SkipsMissingValidationFile(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "2012-1.csv", "1")
	writeCSV(t, dir, "2012-2.csv", "2")

	st := &tallyStore{}
	logger := &captureLogger{}
	var out bytes.Buffer
	err := executeRun(context.Background(), testRunConfig(dir), st, report.NewPlain(&out), logger, runOptions{verify: true})

	require.NoError(t, err)
	assert.Equal(t, 1, st.aggregates)
	assert.Contains(t, logger.lines, "validation.csv not found, skipping")
	assert.NotContains(t, out.String(), "Change from")
}

func TestPresentFiles_KeepsExistingInOrder(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "b.csv", "1")
	writeCSV(t, dir, "a.csv", "1")

	paths := []string{filepath.Join(dir, "b.csv"), filepath.Join(dir, "gone.csv"), filepath.Join(dir, "a.csv")}
	got := presentFiles(paths, logging.NewNullLogger())

	assert.Equal(t, []string{paths[0], paths[2]}, got)
}
