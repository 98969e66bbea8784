package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBucket(t *testing.T, capacity int, refill float64) *TokenBucket {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenBucket(client, capacity, refill, time.Minute)
}

func TestTokenBucketExhaustion(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 2, 1)

	// Same client address as the admin middleware would key on.
	key := "rl:admin:203.0.113.9"
	allowed, tokens, err := bucket.Allow(ctx, key)
	if err != nil || !allowed {
		t.Fatalf("expected first admin request allowed got allowed=%v err=%v", allowed, err)
	}
	if tokens >= 2 {
		t.Fatalf("expected token consumed, %v remaining", tokens)
	}
	if allowed, _, _ = bucket.Allow(ctx, key); !allowed {
		t.Fatalf("expected second admin request allowed")
	}
	if allowed, _, _ = bucket.Allow(ctx, key); allowed {
		t.Fatalf("expected third admin request rejected at capacity 2")
	}

	// Refill cannot be tested against miniredis: the script takes wall-clock
	// milliseconds from the caller, not from Redis.
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	bucket := newBucket(t, 1, 1)

	if allowed, _, _ := bucket.Allow(ctx, "rl:admin:10.0.0.1"); !allowed {
		t.Fatalf("first address should be allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "rl:admin:10.0.0.1"); allowed {
		t.Fatalf("first address should be exhausted")
	}
	if allowed, _, _ := bucket.Allow(ctx, "rl:admin:10.0.0.2"); !allowed {
		t.Fatalf("second address must have its own bucket")
	}
}
