package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupRedisLock(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	l, err := NewRedis("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, s
}

func TestRedisLockIsExclusive(t *testing.T) {
	l, s := setupRedisLock(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "phase:1:0")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !s.Exists("reviewflow:lock:phase:1:0") {
		t.Fatal("expected lease key in redis")
	}

	busy, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(busy, "phase:1:0"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second lock to time out, got %v", err)
	}

	unlock()
	if s.Exists("reviewflow:lock:phase:1:0") {
		t.Fatal("expected lease key to be released")
	}

	again, err := l.Lock(ctx, "phase:1:0")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestRedisLeaseExpires(t *testing.T) {
	l, s := setupRedisLock(t)
	ctx := context.Background()

	stale, err := l.Lock(ctx, "phase:2:1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	s.FastForward(2 * time.Minute)

	fresh, err := l.Lock(ctx, "phase:2:1")
	if err != nil {
		t.Fatalf("expected lock after lease expiry, got %v", err)
	}

	// Releasing the expired lease must not drop the new holder's lease.
	stale()
	if !s.Exists("reviewflow:lock:phase:2:1") {
		t.Fatal("expected new lease to survive stale release")
	}
	fresh()
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}
