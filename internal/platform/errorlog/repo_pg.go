package errorlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is a Store backed by PostgreSQL.
type PGStore struct {
	db  queryable
	now func() time.Time
}

// NewPGStore creates a ledger on pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: pool, now: time.Now}
}

const entryCols = `id, function, bucket, object_key, site, publisher, reason, created_at`

// Record inserts e.
func (s *PGStore) Record(ctx context.Context, e *Entry) error {
	prepare(e, s.now())
	_, err := s.db.Exec(ctx, `
		INSERT INTO error_log (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Function, e.Bucket, e.ObjectKey, e.Site, e.Publisher, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record error entry: %w", err)
	}
	return nil
}

// Since returns the entries created at or after since, oldest first.
func (s *PGStore) Since(ctx context.Context, since time.Time) ([]*Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryCols+` FROM error_log WHERE created_at >= $1 ORDER BY created_at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("query error entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Function, &e.Bucket, &e.ObjectKey, &e.Site, &e.Publisher, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan error entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
