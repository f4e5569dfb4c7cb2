package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisLimiterAllow(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}

	prefix := "test:ratelimit:ws:"
	defer client.Del(ctx, prefix+"a", prefix+"a:seq", prefix+"b", prefix+"b:seq")
	client.Del(ctx, prefix+"a", prefix+"a:seq", prefix+"b", prefix+"b:seq")

	l := NewRedisLimiter(client, Config{Limit: 3, Window: time.Minute}, prefix)
	for i := range 3 {
		ok, err := l.Allow(ctx, "a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "a"); ok {
		t.Fatal("4th hit should be denied")
	}
	if ok, _ := l.Allow(ctx, "b"); !ok {
		t.Fatal("separate key should be allowed")
	}
}

func TestRedisLimiterReportsOutage(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	l := NewRedisLimiter(client, DefaultConfig(), "test:")
	if _, err := l.Allow(context.Background(), "a"); err == nil {
		t.Fatal("expected an error when Redis is unreachable")
	}
}
