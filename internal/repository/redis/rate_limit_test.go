package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRateLimitRepository_CountsWithinWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "gate:otp-issue", TTL: time.Hour})

	ctx := context.Background()
	now := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	window := 15 * time.Minute

	attempts := []time.Time{now.Add(-20 * time.Minute), now.Add(-10 * time.Minute), now.Add(-time.Minute), now.Add(-time.Minute)}
	for _, at := range attempts {
		if err := repo.RecordAttempt(ctx, "ada@example.com:registration", at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "ada@example.com:registration", window, now)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 attempts in window, got %d", count)
	}

	if ttl := server.TTL("gate:otp-issue:ada@example.com:registration"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl within (0, 1h], got %v", ttl)
	}
}

func TestRateLimitRepository_TrimAndOldest(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "gate:otp-issue"})

	ctx := context.Background()
	now := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	window := 15 * time.Minute
	id := "ada@example.com:password_reset"

	stale := now.Add(-30 * time.Minute)
	oldestInWindow := now.Add(-12 * time.Minute)
	for _, at := range []time.Time{stale, oldestInWindow, now.Add(-2 * time.Minute)} {
		if err := repo.RecordAttempt(ctx, id, at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	if err := repo.TrimWindow(ctx, id, window, now); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	members, err := client.ZCard(ctx, "gate:otp-issue:"+id).Result()
	if err != nil {
		t.Fatalf("ZCard returned error: %v", err)
	}
	if members != 2 {
		t.Fatalf("expected 2 members after trim, got %d", members)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, id, window, now)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !ok || !oldest.Equal(oldestInWindow) {
		t.Fatalf("expected oldest %v, got %v (ok=%v)", oldestInWindow, oldest, ok)
	}
}

func TestRateLimitRepository_RejectsNonPositiveWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.CountAttempts(context.Background(), "id", 0, time.Now()); err == nil {
		t.Fatal("expected error for zero window")
	}
	if _, ok, err := repo.OldestAttempt(context.Background(), "id", time.Minute, time.Now()); err != nil || ok {
		t.Fatalf("expected empty result, got ok=%v err=%v", ok, err)
	}
}
