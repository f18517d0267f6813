package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtally/internal/logging"
	"github.com/vvka-141/pgtally/internal/pipeline"
	"github.com/vvka-141/pgtally/internal/stats"
	"github.com/vvka-141/pgtally/internal/store"
	"github.com/vvka-141/pgtally/internal/testinfra"
	"github.com/vvka-141/pgtally/pkg/pgtally"
)

func openStore(t *testing.T) *store.PgStore {
	t.Helper()

	pool := testinfra.NewPool(t)
	table := fmt.Sprintf("tx_%d", time.Now().UnixNano())

	ctx := context.Background()
	s, err := store.Open(ctx, pool, table, logging.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.EnsureTable(ctx))
	require.NoError(t, s.EnsureTable(ctx), "EnsureTable must be repeatable")
	return s
}

func day(d int) time.Time {
	return time.Date(2012, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestPgStore_EmptyAggregate(t *testing.T) {
	s := openStore(t)

	snap, err := s.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pgtally.Snapshot{}, snap)
}

func TestPgStore_BatchAndSingleCommit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteBatch(ctx, []pgtally.TransactionRecord{
		{Timestamp: day(1), Price: 10, SubjectID: "a", SourceFile: "2012-1.csv"},
		{Timestamp: day(2), Price: 0, SubjectID: "b", SourceFile: "2012-1.csv"},
	}))
	require.NoError(t, tx.ExecuteSingle(ctx, pgtally.TransactionRecord{Timestamp: day(3), Price: 5.5, SubjectID: "c", SourceFile: "validation.csv"}))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

	snap, err := s.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Count)
	assert.InDelta(t, 5.17, snap.Mean, 1e-9)
	assert.Equal(t, 0.0, snap.Min)
	assert.Equal(t, 10.0, snap.Max)
}

func TestPgStore_RollbackDiscards(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteBatch(ctx, []pgtally.TransactionRecord{{Timestamp: day(1), Price: 1, SubjectID: "a", SourceFile: "f"}}))
	require.NoError(t, tx.Rollback(ctx))

	snap, err := s.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Count)
}

func TestPgStore_ProcessorEndToEnd(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("timestamp,price,user_id\n")
	for i := 1; i <= 2500; i++ {
		price := fmt.Sprintf("%d.25", i%97)
		if i%500 == 0 {
			price = ""
		}
		fmt.Fprintf(&b, "04/%02d/2012,%s,u%d\n", i%30+1, price, i%11)
	}
	batchFile := filepath.Join(dir, "2012-1.csv")
	require.NoError(t, os.WriteFile(batchFile, []byte(b.String()), 0o644))

	rowFile := filepath.Join(dir, "validation.csv")
	require.NoError(t, os.WriteFile(rowFile, []byte("timestamp,price,user_id\n05/01/2012,99.5,z\n05/02/2012,,y\n"), 0o644))

	p := pipeline.NewProcessor(s, stats.New(), logging.NewNullLogger())

	rows, err := p.ProcessFile(ctx, batchFile, 1000, pipeline.Batch)
	require.NoError(t, err)
	assert.Equal(t, 2500, rows)

	rows, err = p.ProcessFile(ctx, rowFile, 1000, pipeline.RowByRow)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	mem := p.Stats()
	db, err := p.Verify(ctx)
	require.NoError(t, err)

	assert.Equal(t, mem.Count, db.Count)
	assert.Equal(t, mem.Min, db.Min)
	assert.Equal(t, mem.Max, db.Max)
	assert.InDelta(t, mem.Mean, db.Mean, 0.005)
}

func TestPgStore_FailedFileLeavesNoRows(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("timestamp,price,user_id\n")
	for i := 1; i <= 2500; i++ {
		fmt.Fprintf(&b, "06/01/2012,%d,u\n", i)
	}
	b.WriteString("not-a-date,1,u\n")
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	p := pipeline.NewProcessor(s, stats.New(), logging.NewNullLogger())
	_, err := p.ProcessFile(ctx, path, 1000, pipeline.Batch)
	require.Error(t, err)

	snap, err := s.Aggregate(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Count)
	assert.Equal(t, pgtally.Snapshot{}, p.Stats())
}

func TestPgStore_DefaultTableProvisioned(t *testing.T) {
	pool := testinfra.NewPool(t)
	if os.Getenv(testinfra.ConnEnvVar) != "" {
		t.Skipf("%s points at an external server; only the test container provisions %s", testinfra.ConnEnvVar, pgtally.DefaultTable)
	}

	ctx := context.Background()
	s, err := store.Open(ctx, pool, pgtally.DefaultTable, logging.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Aggregate(ctx)
	assert.NoError(t, err, "table must exist without EnsureTable")
}
