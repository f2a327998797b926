package channels

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10.0, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Errorf("expected Allow() to return true for request %d", i+1)
		}
	}
	if rl.Allow() {
		t.Error("expected Allow() to return false when empty")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(100.0, 1)
	if !rl.Allow() {
		t.Fatal("expected first Allow() to succeed")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow() {
		t.Error("expected a token after refill")
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.01, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestRateLimiter_WaitSucceeds(t *testing.T) {
	rl := NewRateLimiter(200.0, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestKeyedRateLimiter_IndependentKeys(t *testing.T) {
	k := NewKeyedRateLimiter(0.01, 1)
	if !k.Allow("chat-a") {
		t.Fatal("expected first token for chat-a")
	}
	if k.Allow("chat-a") {
		t.Error("chat-a should be exhausted")
	}
	if !k.Allow("chat-b") {
		t.Error("chat-b must not share chat-a's bucket")
	}
	if k.Len() != 2 {
		t.Errorf("Len() = %d, want 2", k.Len())
	}
}

func TestKeyedRateLimiter_Prune(t *testing.T) {
	k := NewKeyedRateLimiter(1, 1)
	k.Allow("old")
	time.Sleep(10 * time.Millisecond)
	k.Allow("new")

	if n := k.Prune(5 * time.Millisecond); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if k.Len() != 1 {
		t.Errorf("Len() = %d, want 1", k.Len())
	}
}

func TestKeyedRateLimiter_EvictsIdleBucketsOnUse(t *testing.T) {
	k := NewKeyedRateLimiter(1000, 1)
	k.idle = 5 * time.Millisecond
	for _, chat := range []string{"chat-1", "chat-2", "chat-3"} {
		k.Allow(chat)
	}
	time.Sleep(20 * time.Millisecond)

	k.Allow("chat-4")
	if k.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after idle buckets are evicted", k.Len())
	}
}

func TestNewKeyedRateLimiter_IdleCoversRefill(t *testing.T) {
	if k := NewKeyedRateLimiter(100, 5); k.idle != minIdleTTL {
		t.Errorf("idle = %v, want %v", k.idle, minIdleTTL)
	}
	if k := NewKeyedRateLimiter(0.01, 1); k.idle < 200*time.Second {
		t.Errorf("idle = %v, want at least the full refill time", k.idle)
	}
}
