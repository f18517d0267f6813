package store

// SQL templates. %s receives the sanitized table identifier.
const (
	// queryCreateTable bootstraps the destination table; it never alters an existing one.
	queryCreateTable = `
		CREATE TABLE IF NOT EXISTS %s (
			"timestamp" DATE,
			price       DOUBLE PRECISION,
			user_id     TEXT,
			file_source TEXT
		)
	`

	// queryInsert writes one row.
	// Parameters: $1 date, $2 price, $3 user id, $4 source file
	queryInsert = `INSERT INTO %s ("timestamp", price, user_id, file_source) VALUES ($1, $2, $3, $4)`

	// queryAggregate computes the verification statistics over every committed row.
	// The average is rounded server-side to two decimals.
	queryAggregate = `
		SELECT COUNT(*), AVG(price)::numeric(10,2), MIN(price), MAX(price)
		FROM %s
	`
)

// copyColumns is the column order used by COPY.
var copyColumns = []string{"timestamp", "price", "user_id", "file_source"}
