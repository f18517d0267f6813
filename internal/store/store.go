// Package store persists transaction records to PostgreSQL over a single
// connection and computes the verification aggregate.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// PgStore implements pgtally.Store on one connection acquired from a pgx pool.
// It owns the pool: Close releases the connection and closes the pool.
//
// Thread-Safety: NOT safe for concurrent use.
type PgStore struct {
	pool   *pgxpool.Pool
	conn   *pgxpool.Conn
	table  pgx.Identifier
	logger pgtally.Logger
}

// Open validates table and acquires the connection the store will use for its whole life.
func Open(ctx context.Context, pool *pgxpool.Pool, table string, logger pgtally.Logger) (*PgStore, error) {
	if !pgtally.ValidIdentifier(table) {
		return nil, fmt.Errorf("table %q is not a valid identifier: %w", table, pgtally.ErrInvalidConfig)
	}
	if pool == nil {
		return nil, fmt.Errorf("pool cannot be nil: %w", pgtally.ErrInvalidConfig)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w: %w", pgtally.ErrConnectionFailed, err)
	}

	return &PgStore{
		pool:   pool,
		conn:   conn,
		table:  pgx.Identifier(strings.Split(table, ".")),
		logger: logger,
	}, nil
}

// Table returns the sanitized destination table name.
func (s *PgStore) Table() string {
	return s.table.Sanitize()
}

// CreateTableSQL returns the idempotent DDL for table, for provisioning the
// table outside a run (init scripts, fixtures).
func CreateTableSQL(table string) (string, error) {
	if !pgtally.ValidIdentifier(table) {
		return "", fmt.Errorf("table %q is not a valid identifier: %w", table, pgtally.ErrInvalidConfig)
	}
	return fmt.Sprintf(queryCreateTable, pgx.Identifier(strings.Split(table, ".")).Sanitize()), nil
}

// EnsureTable creates the destination table if it is missing.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, fmt.Sprintf(queryCreateTable, s.Table())); err != nil {
		return fmt.Errorf("failed to create table %s: %w: %w", s.Table(), pgtally.ErrWrite, err)
	}
	s.logger.Verbose("Ensured table %s", s.Table())
	return nil
}

// Begin starts the transaction for one file.
func (s *PgStore) Begin(ctx context.Context) (pgtally.StoreTx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, table: s.table}, nil
}

// Aggregate runs the verification query.
// An empty table yields the zero Snapshot.
func (s *PgStore) Aggregate(ctx context.Context) (pgtally.Snapshot, error) {
	var (
		count  int64
		avg    pgtype.Numeric
		lo, hi pgtype.Float8
	)

	err := s.conn.QueryRow(ctx, fmt.Sprintf(queryAggregate, s.Table())).Scan(&count, &avg, &lo, &hi)
	if err != nil {
		return pgtally.Snapshot{}, fmt.Errorf("aggregate over %s: %w", s.Table(), err)
	}

	snap := pgtally.Snapshot{Count: uint64(count), Min: lo.Float64, Max: hi.Float64}
	if avg.Valid {
		mean, err := avg.Float64Value()
		if err != nil {
			return pgtally.Snapshot{}, fmt.Errorf("decode average: %w", err)
		}
		snap.Mean = mean.Float64
	}
	return snap, nil
}

// Close releases the connection and closes the pool. Idempotent.
func (s *PgStore) Close() error {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

type pgTx struct {
	tx    pgx.Tx
	table pgx.Identifier
}

// ExecuteBatch streams records with COPY.
func (t *pgTx) ExecuteBatch(ctx context.Context, records []pgtally.TransactionRecord) error {
	n, err := t.tx.CopyFrom(ctx, t.table, copyColumns, pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{r.Timestamp, r.Price, r.SubjectID, r.SourceFile}, nil
	}))
	if err != nil {
		return err
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copied %d of %d rows", n, len(records))
	}
	return nil
}

func (t *pgTx) ExecuteSingle(ctx context.Context, r pgtally.TransactionRecord) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(queryInsert, t.table.Sanitize()), r.Timestamp, r.Price, r.SubjectID, r.SourceFile)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is a no-op on an already finished transaction.
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
