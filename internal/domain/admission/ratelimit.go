package admission

import (
	"math"
	"sync"
	"time"
)

// RateDecision reports the outcome of one token bucket take.
type RateDecision struct {
	Allowed bool
	// Limit is the bucket capacity, surfaced for response headers.
	Limit int
	// Remaining is the whole number of tokens left after this take.
	Remaining int
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when the request was allowed. Never below one second when set.
	RetryAfter time.Duration
	// Locked reports that the identity is serving a punitive lockout.
	Locked bool
}

type bucket struct {
	tokens    float64
	last      time.Time
	lockUntil time.Time
	touched   time.Time
}

// RateLimiter is a per-identity token bucket. Each identity gets a bucket
// of capacity tokens refilled continuously at capacity/60 tokens per
// second, so a full bucket represents one minute of traffic. An optional
// lockout freezes an identity for a fixed period after it drains the
// bucket.
//
// All operations are safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64 // tokens per second
	lockout  time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter admitting perMinute requests per
// identity. A positive lockout punishes bucket exhaustion with a flat
// freeze instead of a gradual refill wait.
func NewRateLimiter(perMinute int, lockout time.Duration) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lockout:  lockout,
		now:      time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Take consumes one token for identity and reports the decision.
func (rl *RateLimiter) Take(identity string) RateDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[identity]
	if !ok {
		b = &bucket{tokens: rl.capacity, last: now}
		rl.buckets[identity] = b
	}
	b.touched = now

	if b.lockUntil.After(now) {
		return RateDecision{
			Limit:      int(rl.capacity),
			RetryAfter: ceilSeconds(b.lockUntil.Sub(now)),
			Locked:     true,
		}
	}

	// Continuous refill since the last take, capped at capacity.
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(rl.capacity, b.tokens+elapsed*rl.rate)
		b.last = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return RateDecision{
			Allowed:   true,
			Limit:     int(rl.capacity),
			Remaining: int(b.tokens),
		}
	}

	if rl.lockout > 0 {
		b.lockUntil = now.Add(rl.lockout)
		return RateDecision{
			Limit:      int(rl.capacity),
			RetryAfter: ceilSeconds(rl.lockout),
			Locked:     true,
		}
	}

	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return RateDecision{
		Limit:      int(rl.capacity),
		RetryAfter: ceilSeconds(wait),
	}
}

// Evict drops buckets idle since before the cutoff and reports how many
// were removed.
func (rl *RateLimiter) Evict(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, b := range rl.buckets {
		if b.touched.Before(cutoff) && !b.lockUntil.After(rl.now()) {
			delete(rl.buckets, id)
			removed++
		}
	}
	return removed
}

// Size reports the number of tracked identities.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// ceilSeconds rounds up to whole seconds with a one second floor, which is
// the smallest honest Retry-After value.
func ceilSeconds(d time.Duration) time.Duration {
	secs := math.Ceil(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
