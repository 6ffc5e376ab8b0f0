package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// MySQLLocker implements the duplicate-send guard with MySQL advisory
// locks, for deployments that already carry the delivery-log database but
// no Redis.
type MySQLLocker struct {
	db    *sql.DB
	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// NewMySQLLocker constructs a MySQL-based advisory lock manager.
func NewMySQLLocker(db *sql.DB) *MySQLLocker {
	return &MySQLLocker{
		db:    db,
		conns: make(map[string]*sql.Conn),
	}
}

// Acquire obtains a named advisory lock, pinning a connection while held.
// A lock already held elsewhere fails immediately with ErrNotAcquired: the
// caller treats a held lock as a duplicate request, so waiting for the
// holder to finish would relay the same mail twice. The TTL is unused;
// MySQL advisory locks live until released or the connection drops.
func (l *MySQLLocker) Acquire(ctx context.Context, key string, _ time.Duration) error {
	l.mu.Lock()
	if _, exists := l.conns[key]; exists {
		l.mu.Unlock()
		return ErrAlreadyHeld
	}
	l.mu.Unlock()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}

	var acquired int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return err
	}
	if acquired != 1 {
		_ = conn.Close()
		return ErrNotAcquired
	}

	l.mu.Lock()
	l.conns[key] = conn
	l.mu.Unlock()

	return nil
}

// Release frees the advisory lock and returns its pinned connection.
func (l *MySQLLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	conn, ok := l.conns[key]
	if ok {
		delete(l.conns, key)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}

	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", key); err != nil {
		return err
	}
	return nil
}
