package guard

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := Connect(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConnectEmptyURL(t *testing.T) {
	rdb, err := Connect(context.Background(), "  ")
	if err != nil || rdb != nil {
		t.Fatalf("expected nil client, got %v %v", rdb, err)
	}
}

func TestRoundLeaseExclusive(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	a := NewRoundLease(rdb, time.Hour)
	b := NewRoundLease(rdb, time.Hour)

	if err := a.Acquire(ctx, "r1"); err != nil {
		t.Fatalf("Acquire r1: %v", err)
	}
	if err := b.Acquire(ctx, "r2"); err != domain.ErrAlreadyActive {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if h, _ := b.Holder(ctx); h != "r1" {
		t.Fatalf("holder = %q", h)
	}

	// releasing with a foreign round id leaves the lease alone
	if err := b.Release(ctx, "r2"); err != nil {
		t.Fatalf("Release r2: %v", err)
	}
	if h, _ := a.Holder(ctx); h != "r1" {
		t.Fatalf("lease stolen, holder = %q", h)
	}

	if err := a.Release(ctx, "r1"); err != nil {
		t.Fatalf("Release r1: %v", err)
	}
	if err := b.Acquire(ctx, "r2"); err != nil {
		t.Fatalf("Acquire r2 after release: %v", err)
	}
}

func TestRoundLeaseExpires(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	l := NewRoundLease(rdb, 40*time.Minute)
	if err := l.Acquire(ctx, "r1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mr.FastForward(41 * time.Minute)
	if err := l.Acquire(ctx, "r2"); err != nil {
		t.Fatalf("expected expired lease to be reacquired: %v", err)
	}
}

func TestDisabledGuardsAreNoops(t *testing.T) {
	ctx := context.Background()
	l := NewRoundLease(nil, 0)
	if err := l.Acquire(ctx, "r1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Acquire(ctx, "r2"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(ctx, "r1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	a := NewAuthLimiter(nil, 3, time.Minute)
	for i := 0; i < 10; i++ {
		_ = a.Fail(ctx, "alice")
	}
	if err := a.Check(ctx, "alice"); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestAuthLimiter(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	a := NewAuthLimiter(rdb, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := a.Check(ctx, "Alice"); err != nil {
			t.Fatalf("attempt %d throttled early: %v", i, err)
		}
		if err := a.Fail(ctx, "alice"); err != nil {
			t.Fatalf("Fail: %v", err)
		}
	}
	if err := a.Check(ctx, "alice"); err != domain.ErrAuthThrottled {
		t.Fatalf("expected throttled, got %v", err)
	}
	if err := a.Check(ctx, "bob"); err != nil {
		t.Fatalf("bob should not be throttled: %v", err)
	}

	mr.FastForward(61 * time.Second)
	if err := a.Check(ctx, "alice"); err != nil {
		t.Fatalf("window should have expired: %v", err)
	}

	_ = a.Fail(ctx, "alice")
	if err := a.Reset(ctx, "alice"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if mr.Exists(keyPrefix + "authfail:alice") {
		t.Fatalf("counter not cleared")
	}
}
