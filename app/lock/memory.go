package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local lock table for single-instance
// deployments where neither Redis nor MySQL is configured. Entries expire
// by TTL on the next acquire attempt.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewMemoryLocker constructs an in-process lock manager.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time)}
}

// Acquire locks a key until Release or TTL expiry.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[key]; ok && time.Now().Before(expiry) {
		return ErrNotAcquired
	}
	l.held[key] = time.Now().Add(ttl)
	return nil
}

// Release frees the lock for a key.
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}
