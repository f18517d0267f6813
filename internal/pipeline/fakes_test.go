package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	committed []pgtally.TransactionRecord

	batchSizes  []int
	singleCalls int
	commits     int
	rollbacks   int

	beginErr     error
	commitErr    error
	aggregateErr error
	failBatchAt  int // 1-based ExecuteBatch call to fail, 0 never
	failSingleAt int // 1-based ExecuteSingle call to fail, 0 never
}

func (s *memStore) Begin(_ context.Context) (pgtally.StoreTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{store: s}, nil
}

func (s *memStore) Aggregate(_ context.Context) (pgtally.Snapshot, error) {
	if s.aggregateErr != nil {
		return pgtally.Snapshot{}, s.aggregateErr
	}
	if len(s.committed) == 0 {
		return pgtally.Snapshot{}, nil
	}
	snap := pgtally.Snapshot{Count: uint64(len(s.committed)), Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, r := range s.committed {
		sum += r.Price
		snap.Min = math.Min(snap.Min, r.Price)
		snap.Max = math.Max(snap.Max, r.Price)
	}
	snap.Mean = math.Round(sum/float64(len(s.committed))*100) / 100
	return snap, nil
}

func (s *memStore) Close() error { return nil }

type memTx struct {
	store   *memStore
	pending []pgtally.TransactionRecord
	done    bool
}

func (t *memTx) ExecuteBatch(_ context.Context, records []pgtally.TransactionRecord) error {
	t.store.batchSizes = append(t.store.batchSizes, len(records))
	if t.store.failBatchAt == len(t.store.batchSizes) {
		return errInjected
	}
	t.pending = append(t.pending, records...)
	return nil
}

func (t *memTx) ExecuteSingle(_ context.Context, record pgtally.TransactionRecord) error {
	t.store.singleCalls++
	if t.store.failSingleAt == t.store.singleCalls {
		return errInjected
	}
	t.pending = append(t.pending, record)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	t.store.commits++
	t.store.committed = append(t.store.committed, t.pending...)
	t.pending = nil
	t.done = true
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.store.rollbacks++
	t.pending = nil
	t.done = true
	return nil
}

// recordingLogger keeps every message for assertions.
type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) log(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Verbose(format string, args ...interface{}) { l.log(format, args...) }
func (l *recordingLogger) Info(format string, args ...interface{})    { l.log(format, args...) }
func (l *recordingLogger) Error(format string, args ...interface{})   { l.log(format, args...) }

func (l *recordingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// rowsCSV builds a file of n rows with prices 1..n scaled by factor.
func rowsCSV(n int, factor float64) string {
	var b strings.Builder
	b.WriteString("timestamp,price,user_id\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "02/%02d/2012,%g,user%d\n", i%28+1, float64(i)*factor, i%17)
	}
	return b.String()
}
