package channels

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket: bursts up to capacity, then refills at rate
// tokens per second.
type RateLimiter struct {
	rate     float64
	capacity int

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
}

// NewRateLimiter creates a full bucket.
// rate: tokens per second; capacity: maximum burst size.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	now := time.Now()
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     float64(capacity),
		lastRefill: now,
		lastUsed:   now,
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow consumes a token if one is available.
func (r *RateLimiter) Allow() bool {
	return r.reserve() <= 0
}

// reserve takes a token and returns zero, or returns how long until one is due.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		r.lastUsed = time.Now()
		return 0
	}
	if r.rate <= 0 {
		return time.Second
	}
	return time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
}

// refill adds tokens for the time elapsed. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

func (r *RateLimiter) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsed
}

// minIdleTTL is the shortest time a keyed bucket is kept after its last use.
const minIdleTTL = time.Minute

// KeyedRateLimiter holds one bucket per key, such as per chat, created on
// first use. Buckets idle long enough to have refilled completely are
// dropped as new keys arrive.
type KeyedRateLimiter struct {
	rate     float64
	capacity int
	idle     time.Duration

	mu        sync.Mutex
	limiters  map[string]*RateLimiter
	lastPrune time.Time
}

// NewKeyedRateLimiter creates an empty keyed limiter with the given per-key settings.
func NewKeyedRateLimiter(rate float64, capacity int) *KeyedRateLimiter {
	idle := minIdleTTL
	if rate > 0 {
		// A bucket unused this long is full again, so recreating it is lossless.
		if refill := time.Duration(float64(capacity+1) / rate * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &KeyedRateLimiter{
		rate:      rate,
		capacity:  capacity,
		idle:      idle,
		limiters:  make(map[string]*RateLimiter),
		lastPrune: time.Now(),
	}
}

func (k *KeyedRateLimiter) get(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	if now := time.Now(); k.rate > 0 && now.Sub(k.lastPrune) >= k.idle {
		k.pruneLocked(now.Add(-k.idle))
		k.lastPrune = now
	}
	l, ok := k.limiters[key]
	if !ok {
		l = NewRateLimiter(k.rate, k.capacity)
		k.limiters[key] = l
	}
	return l
}

// Wait blocks until key's bucket has a token.
func (k *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

// Allow consumes a token from key's bucket if available.
func (k *KeyedRateLimiter) Allow(key string) bool {
	return k.get(key).Allow()
}

// Prune drops buckets unused for longer than idle and returns how many were dropped.
func (k *KeyedRateLimiter) Prune(idle time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pruneLocked(time.Now().Add(-idle))
}

func (k *KeyedRateLimiter) pruneLocked(cutoff time.Time) int {
	n := 0
	for key, l := range k.limiters {
		if l.idleSince().Before(cutoff) {
			delete(k.limiters, key)
			n++
		}
	}
	return n
}

// Len returns the number of live buckets.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
