package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps lock state in the invocation_locks table. The upsert
// takes a row lock, so concurrent acquirers of one id are serialized and only
// the first sees its row returned.
type PostgresStore struct {
	db    DB
	lease time.Duration
}

func NewPostgresStore(db DB, lease time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lease: lease}
}

func (s *PostgresStore) Acquire(ctx context.Context, id string) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		INSERT INTO invocation_locks (id, running, updated_at)
		VALUES ($1, true, NOW())
		ON CONFLICT (id) DO UPDATE
		SET running = true, updated_at = NOW()
		WHERE invocation_locks.running = false
		   OR ($2::float8 > 0 AND invocation_locks.updated_at < NOW() - make_interval(secs => $2::float8))
		RETURNING id
	`, id, s.lease.Seconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres lock acquire %s: %w", id, err)
	}
	return true, nil
}

func (s *PostgresStore) Release(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE invocation_locks SET running = false, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("postgres lock release %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Held(ctx context.Context, id string) (bool, error) {
	var running bool
	err := s.db.QueryRow(ctx, `
		SELECT running AND ($2::float8 <= 0 OR updated_at >= NOW() - make_interval(secs => $2::float8))
		FROM invocation_locks WHERE id = $1
	`, id, s.lease.Seconds()).Scan(&running)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres lock status %s: %w", id, err)
	}
	return running, nil
}
