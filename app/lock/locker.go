package lock

import (
	"context"
	"errors"
	"time"
)

var ErrAlreadyHeld = errors.New("lock already held by this process")
var ErrNotAcquired = errors.New("lock not acquired")

// Locker guards a request identifier while its relay attempt is in flight,
// so a client retrying the same request_id cannot cause duplicate mail.
type Locker interface {
	// Acquire attempts to lock a key for the given TTL. A key that is
	// already locked fails immediately with ErrNotAcquired (or
	// ErrAlreadyHeld when this process holds it); implementations never
	// wait for the holder, since a held lock means the same request is
	// in flight and the caller must surface a duplicate, not send again.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	// Release frees the lock for the given key.
	Release(ctx context.Context, key string) error
}
