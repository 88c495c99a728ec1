package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// PostgresIdempotencyChecker answers dedup lookups that miss the in-memory
// cache, using the (kind, idempotency_key) unique index of the action log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, kind, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_log.actions WHERE kind = $1 AND idempotency_key = $2 LIMIT 1`,
		kind, key,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the "kind:key" composites of the newest limit actions,
// oldest first, for warming the cache at startup.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT kind, idempotency_key FROM (
			SELECT sequence, kind, idempotency_key
			FROM event_log.actions
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, err
		}
		keys = append(keys, kind+":"+key)
	}
	return keys, rows.Err()
}

// LastSequence returns the highest persisted sequence, 0 if the log is empty.
func (pic *PostgresIdempotencyChecker) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := pic.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.actions`).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, "last sequence")
	}
	return seq.Int64, nil
}
