// Package ratelimit implements the token-bucket admission gates, tier
// adaptation, and classified backoff used to throttle LLM driver calls.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a linear-refill token bucket. Unlike a request-per-second
// limiter, capacity here tracks an arbitrary per-window budget (requests or
// tokens) refilled continuously over windowSeconds.
type Bucket struct {
	mu            sync.Mutex
	tokens        float64
	maxTokens     float64
	windowSeconds float64
	lastRefill    time.Time
}

// NewBucket creates a bucket with the given capacity refilling linearly over
// windowSeconds. A non-positive capacity means the axis is unlimited: AllowN
// always succeeds and WaitTime is always zero.
func NewBucket(capacity float64, windowSeconds float64) *Bucket {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &Bucket{
		tokens:        capacity,
		maxTokens:     capacity,
		windowSeconds: windowSeconds,
		lastRefill:    time.Now(),
	}
}

// Unlimited reports whether this bucket has no effective cap.
func (b *Bucket) Unlimited() bool {
	return b.maxTokens <= 0
}

func (b *Bucket) refillRate() float64 {
	return b.maxTokens / b.windowSeconds
}

// refill adds tokens for elapsed time. Caller must hold b.mu.
func (b *Bucket) refill() {
	if b.Unlimited() {
		return
	}
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate()
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// AllowN reports whether n units are currently available and, if so,
// consumes them.
func (b *Bucket) AllowN(n float64) bool {
	if b.Unlimited() {
		return true
	}
	if n <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Tokens returns the current available balance.
func (b *Bucket) Tokens() float64 {
	if b.Unlimited() {
		return b.maxTokens
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// WaitTime returns how long until n units would be available.
func (b *Bucket) WaitTime(n float64) time.Duration {
	if b.Unlimited() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= n {
		return 0
	}
	needed := n - b.tokens
	seconds := needed / b.refillRate()
	return time.Duration(seconds * float64(time.Second))
}

// Replace atomically swaps this bucket's capacity/window, preserving the
// current fill ratio (used when a tier upgrade or downgrade is detected).
func (b *Bucket) Replace(capacity float64, windowSeconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	ratio := 1.0
	if b.maxTokens > 0 {
		ratio = b.tokens / b.maxTokens
	}
	b.maxTokens = capacity
	if windowSeconds > 0 {
		b.windowSeconds = windowSeconds
	}
	b.tokens = ratio * b.maxTokens
	b.lastRefill = time.Now()
}

// DayCounter is a hard counter reset at midnight UTC, used for the RPD gate.
type DayCounter struct {
	mu      sync.Mutex
	limit   int
	count   int
	dayKey  string
}

func NewDayCounter(limit int) *DayCounter {
	return &DayCounter{limit: limit, dayKey: dayKeyFor(time.Now())}
}

func dayKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (d *DayCounter) resetIfNewDay() {
	key := dayKeyFor(time.Now())
	if key != d.dayKey {
		d.dayKey = key
		d.count = 0
	}
}

// Allow reports whether one more request fits under the daily quota and, if
// so, counts it. A non-positive limit means unlimited.
func (d *DayCounter) Allow() bool {
	if d.limit <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetIfNewDay()
	if d.count < d.limit {
		d.count++
		return true
	}
	return false
}

func (d *DayCounter) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetIfNewDay()
	return d.count
}

// SetLimit updates the daily quota, used when AdaptToHeaders infers a new
// tier. Takes the same lock as Allow/Count so the swap is never torn.
func (d *DayCounter) SetLimit(limit int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limit = limit
}
