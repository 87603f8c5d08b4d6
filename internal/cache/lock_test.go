package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRedisLocker_ExclusiveAndRelease(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb, 5*time.Second)

	unlock, err := l.Lock(context.Background(), "9123456789")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	if !mr.Exists("lock:identity:9123456789") {
		t.Fatalf("expected lock key to exist")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "9123456789"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	unlock()
	unlock()
	if mr.Exists("lock:identity:9123456789") {
		t.Fatalf("expected lock key to be released")
	}

	unlock2, err := l.Lock(context.Background(), "9123456789")
	if err != nil {
		t.Fatalf("Lock() after release error: %v", err)
	}
	unlock2()
}

func TestRedisLocker_ReleaseDoesNotStealForeignLock(t *testing.T) {
	t.Parallel()

	mr, rdb := newRedis(t)
	l := NewRedisLocker(rdb, time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	// Simulate expiry followed by another owner taking the key.
	mr.FastForward(2 * time.Second)
	if err := mr.Set("lock:identity:k", "someone-else"); err != nil {
		t.Fatalf("seed foreign lock: %v", err)
	}

	unlock()

	got, err := mr.Get("lock:identity:k")
	if err != nil || got != "someone-else" {
		t.Fatalf("expected foreign lock untouched, got %q err=%v", got, err)
	}
}

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	t.Parallel()

	l := NewLocalLocker()

	var (
		active  atomic.Int64
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "9123456789")
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Fatalf("expected no overlapping holders")
	}

	l.mu.Lock()
	left := len(l.locks)
	l.mu.Unlock()
	if left != 0 {
		t.Fatalf("expected lock table to be empty, got %d entries", left)
	}
}

func TestLocalLocker_TimeoutAndIndependentKeys(t *testing.T) {
	t.Parallel()

	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	defer unlock()

	other, err := l.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "a"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
