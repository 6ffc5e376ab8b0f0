package lock

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLockerAcquireRelease(t *testing.T) {
	t.Parallel()

	locker := NewMemoryLocker()

	if err := locker.Acquire(context.Background(), "req-1", time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := locker.Acquire(context.Background(), "req-1", time.Minute); err != ErrNotAcquired {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if err := locker.Release(context.Background(), "req-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := locker.Acquire(context.Background(), "req-1", time.Minute); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	t.Parallel()

	locker := NewMemoryLocker()

	if err := locker.Acquire(context.Background(), "req-1", time.Millisecond); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := locker.Acquire(context.Background(), "req-1", time.Minute); err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
}
