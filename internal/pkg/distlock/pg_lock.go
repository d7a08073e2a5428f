package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ignite/listserv/internal/pkg/logger"
)

// PGLocker implements Locker with pg_try_advisory_lock.
//
// Advisory locks are session-scoped, so each acquisition pins one pooled
// connection until release. The lock is dropped automatically if that
// connection dies.
type PGLocker struct {
	db   *sql.DB
	opts Options
}

// NewPGLocker creates a PostgreSQL advisory Locker.
func NewPGLocker(db *sql.DB, opts Options) *PGLocker {
	return &PGLocker{db: db, opts: opts.withDefaults()}
}

// advisoryID derives a deterministic lock ID from key.
func advisoryID(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

func (p *PGLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock connection: %w", err)
	}
	id := advisoryID(key)
	err = poll(ctx, p.opts, func(ctx context.Context) (bool, error) {
		var acquired bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired); err != nil {
			return false, fmt.Errorf("pg_try_advisory_lock: %w", err)
		}
		return acquired, nil
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", id); err != nil {
			logger.Warn("advisory unlock failed", "key", key, "error", err)
		}
		conn.Close()
	}, nil
}
