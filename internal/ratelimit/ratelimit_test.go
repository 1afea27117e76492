package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/vpnledger/internal/config"
	"go.uber.org/zap"
)

func TestDefaultBucketTTL(t *testing.T) {
	if got := defaultBucketTTL(0, 10); got != time.Second {
		t.Fatalf("expected 1s fallback, got %s", got)
	}
	if got := defaultBucketTTL(50, 200); got != 8*time.Second {
		t.Fatalf("expected 8s, got %s", got)
	}
	if got := defaultBucketTTL(1000, 1); got != time.Second {
		t.Fatalf("expected 1s floor, got %s", got)
	}
}

func TestBucketResultRetryAfter(t *testing.T) {
	res := bucketResult(false, 0.5, 1_000, 2, 10)
	if res.Allowed {
		t.Fatalf("expected denied result")
	}
	if res.RetryAfter != 250*time.Millisecond {
		t.Fatalf("expected 250ms retry, got %s", res.RetryAfter)
	}
	if res.Limit != 10 {
		t.Fatalf("expected limit 10, got %d", res.Limit)
	}

	res = bucketResult(true, 4.9, 1_000, 2, 10)
	if res.RetryAfter != 0 || res.Remaining != 4 {
		t.Fatalf("unexpected allowed result %+v", res)
	}
}

func TestCastHelpers(t *testing.T) {
	if castToFloat("3.75") != 3.75 {
		t.Fatalf("expected string float to parse")
	}
	if castToInt(int64(7)) != 7 || castToInt("9") != 9 {
		t.Fatalf("expected ints to parse")
	}
	if castToFloat(struct{}{}) != 0 {
		t.Fatalf("expected unknown type to map to 0")
	}
}

func TestEdgeReportLimiterDisabledWithoutRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, EdgeReportRate: 1, EdgeReportBurst: 1}}
	limiter, err := NewEdgeReportLimiter(EdgeReportLimiterParams{Config: cfg, Log: zap.NewNop()})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if limiter.Enabled() {
		t.Fatalf("expected limiter to be disabled without a redis client")
	}
	res, err := limiter.AllowServer(context.Background(), "srv-1")
	if err != nil || !res.Allowed {
		t.Fatalf("expected disabled limiter to allow, got %+v err=%v", res, err)
	}
}

func TestLockerWithoutClient(t *testing.T) {
	locker := NewLocker(nil)
	if locker.Enabled() {
		t.Fatalf("expected nil locker to be disabled")
	}
	if _, _, err := locker.TryLock(context.Background(), "job", time.Second); !errors.Is(err, ErrLockNotConfigured) {
		t.Fatalf("expected ErrLockNotConfigured, got %v", err)
	}
	if err := locker.Release(context.Background(), "job", "token"); err != nil {
		t.Fatalf("expected release on nil locker to be a no-op, got %v", err)
	}
}
