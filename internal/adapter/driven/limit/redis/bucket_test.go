package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refillRate float64) (*TokenBucket, *time.Time, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	current := time.Unix(1_700_000_000, 0)
	bucket := NewTokenBucket(rdb, capacity, refillRate, WithClock(func() time.Time { return current }))
	return bucket, &current, mr
}

func TestConsumeDrainAndRefill(t *testing.T) {
	bucket, clock, _ := newTestBucket(t, 20, 5)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		allowed, err := bucket.Consume(ctx, "user:u1", 1)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("consume %d denied with a fresh bucket", i)
		}
	}

	if allowed, err := bucket.Consume(ctx, "user:u1", 1); err != nil || allowed {
		t.Fatalf("21st consume = (%v, %v), want denied", allowed, err)
	}

	// One second of refill at 5 tokens/s grants exactly 5 more.
	*clock = clock.Add(time.Second)
	for i := 0; i < 5; i++ {
		allowed, err := bucket.Consume(ctx, "user:u1", 1)
		if err != nil {
			t.Fatalf("refilled consume %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("refilled consume %d denied", i)
		}
	}
	if allowed, _ := bucket.Consume(ctx, "user:u1", 1); allowed {
		t.Fatal("6th consume after 1s refill allowed")
	}
}

func TestConsumeSubSecondAccruesNothing(t *testing.T) {
	bucket, clock, _ := newTestBucket(t, 5, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if allowed, err := bucket.Consume(ctx, "user:u1", 1); err != nil || !allowed {
			t.Fatalf("consume %d = (%v, %v)", i, allowed, err)
		}
	}

	// 100ms at 5 tokens/s floors to zero tokens.
	*clock = clock.Add(100 * time.Millisecond)
	if allowed, _ := bucket.Consume(ctx, "user:u1", 1); allowed {
		t.Fatal("sub-threshold elapsed time accrued a token")
	}
}

func TestConsumeCapsAtCapacity(t *testing.T) {
	bucket, clock, _ := newTestBucket(t, 3, 5)
	ctx := context.Background()

	if allowed, err := bucket.Consume(ctx, "user:u1", 1); err != nil || !allowed {
		t.Fatalf("initial consume = (%v, %v)", allowed, err)
	}

	// An hour idle refills to capacity, never beyond.
	*clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if allowed, err := bucket.Consume(ctx, "user:u1", 1); err != nil || !allowed {
			t.Fatalf("consume %d = (%v, %v)", i, allowed, err)
		}
	}
	if allowed, _ := bucket.Consume(ctx, "user:u1", 1); allowed {
		t.Fatal("bucket exceeded capacity")
	}
}

func TestConsumeKeysAreIndependent(t *testing.T) {
	bucket, _, _ := newTestBucket(t, 1, 1)
	ctx := context.Background()

	if allowed, _ := bucket.Consume(ctx, "user:u1", 1); !allowed {
		t.Fatal("u1 denied on fresh bucket")
	}
	if allowed, _ := bucket.Consume(ctx, "user:u1", 1); allowed {
		t.Fatal("u1 allowed past capacity")
	}
	if allowed, _ := bucket.Consume(ctx, "ip:10.0.0.1", 1); !allowed {
		t.Fatal("unrelated key shares u1's bucket")
	}
}

func TestBucketExpiry(t *testing.T) {
	bucket, _, mr := newTestBucket(t, 2, 1)
	ctx := context.Background()

	if allowed, _ := bucket.Consume(ctx, "user:u1", 1); !allowed {
		t.Fatal("denied on fresh bucket")
	}
	key := rateLimitKeyPrefix + "user:u1"
	if ttl := mr.TTL(key); ttl <= 0 || ttl > bucketTTL {
		t.Fatalf("ttl = %v, want (0, %v]", ttl, bucketTTL)
	}

	// Idle past the TTL the key is forgotten entirely.
	mr.FastForward(bucketTTL + time.Second)
	if mr.Exists(key) {
		t.Fatal("idle bucket key survived its ttl")
	}
}

func TestConsumeFailsClosedOnStoreOutage(t *testing.T) {
	bucket, _, mr := newTestBucket(t, 20, 5)
	ctx := context.Background()

	mr.Close()
	allowed, err := bucket.Consume(ctx, "user:u1", 1)
	if err == nil {
		t.Fatal("expected an error with the store down")
	}
	if allowed {
		t.Fatal("store outage allowed a request through the limiter")
	}
}
