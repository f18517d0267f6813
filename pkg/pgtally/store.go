package pgtally

import "context"

// Store is the persistence collaborator of the loader: an ordered-write sink
// plus one ad-hoc aggregate query. It owns no processing logic.
//
// Thread-Safety: NOT safe for concurrent use. A Store wraps exactly one
// database connection that is reused for the whole run.
type Store interface {
	// Begin opens the transaction that wraps one input file.
	Begin(ctx context.Context) (StoreTx, error)

	// Aggregate computes count, average, min and max of the price column
	// over all committed rows. Used for verification only.
	Aggregate(ctx context.Context) (Snapshot, error)

	// Close releases the connection. Idempotent.
	Close() error
}

// StoreTx is one open file transaction.
type StoreTx interface {
	// ExecuteBatch writes all records in one bulk operation.
	ExecuteBatch(ctx context.Context, records []TransactionRecord) error

	// ExecuteSingle writes one record.
	ExecuteSingle(ctx context.Context, record TransactionRecord) error

	// Commit makes every write of the transaction durable.
	Commit(ctx context.Context) error

	// Rollback discards every write of the transaction.
	Rollback(ctx context.Context) error
}
