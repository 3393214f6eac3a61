package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veridianlabs/storycore/internal/classify"
)

// Guard is returned by a successful Acquire. It owns one unit of
// concurrency; Release returns that unit to the limiter. The request/token
// budget consumed at admission is never refunded by Release — admission is
// the commitment.
type Guard struct {
	limiter  *Limiter
	released int32
}

// Release returns the concurrency slot. It is safe to call more than once;
// only the first call has effect.
func (g *Guard) Release() {
	if g == nil || g.limiter == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&g.released, 0, 1) {
		if sem := g.limiter.loadSem(); sem != nil {
			select {
			case <-sem:
			default:
			}
		}
	}
}

// Limiter enforces the four independent admission gates described by a
// TierConfig: a concurrency semaphore plus RPM/TPM token buckets and an RPD
// day counter. Each bucket and the day counter guard their own state with
// their own mutex; mu guards the active tier and is held only for O(1)
// bookkeeping. The semaphore itself provides the blocking wait for
// concurrency, so no mutex is held across I/O.
type Limiter struct {
	mu   sync.Mutex
	tier TierConfig

	rpmBucket *Bucket
	tpmBucket *Bucket
	rpdCount  *DayCounter
	// sem is swapped (not mutated) by resizeSemLocked, so acquireConcurrency
	// and TryAcquire can read it on the hot path without taking mu.
	sem atomic.Pointer[chan struct{}]

	knownTiers []TierConfig
}

// New builds a Limiter from a TierConfig. knownTiers is the table consulted
// by AdaptToHeaders for tier inference; it may be nil.
func New(tier TierConfig, knownTiers []TierConfig) *Limiter {
	l := &Limiter{
		tier:       tier,
		rpmBucket:  NewBucket(float64(tier.RPM), 60),
		tpmBucket:  NewBucket(float64(tier.TPM), 60),
		rpdCount:   NewDayCounter(tier.RPD),
		knownTiers: knownTiers,
	}
	if tier.MaxConcurrent > 0 {
		ch := make(chan struct{}, tier.MaxConcurrent)
		l.sem.Store(&ch)
	}
	return l
}

// loadSem returns the current concurrency semaphore, or nil if the tier has
// no concurrency cap.
func (l *Limiter) loadSem() chan struct{} {
	p := l.sem.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Tier returns the currently active tier (a snapshot copy).
func (l *Limiter) Tier() TierConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tier
}

// Acquire blocks cooperatively until all four gates admit a request
// estimated to cost estimatedTokens, then returns a Guard. It respects
// ctx cancellation at every suspension point; cancellation does not refund
// any already-admitted RPM/TPM/RPD budget.
func (l *Limiter) Acquire(ctx context.Context, estimatedTokens int) (*Guard, error) {
	if err := l.acquireConcurrency(ctx); err != nil {
		return nil, err
	}
	guard := &Guard{limiter: l}

	if !l.rpdCount.Allow() {
		guard.Release()
		return nil, classify.RateLimitExceeded(secondsUntilMidnightUTC())
	}

	for {
		if ctx.Err() != nil {
			guard.Release()
			return nil, ctx.Err()
		}
		rpmWait := l.rpmBucket.WaitTime(1)
		tpmWait := l.tpmBucket.WaitTime(float64(estimatedTokens))
		wait := rpmWait
		if tpmWait > wait {
			wait = tpmWait
		}
		if wait <= 0 {
			if l.rpmBucket.AllowN(1) && l.tpmBucket.AllowN(float64(estimatedTokens)) {
				return guard, nil
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			guard.Release()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// AcquireScaled behaves like Acquire but charges requestCost units against
// the RPM bucket instead of a flat 1, letting a carousel budget override
// throttle its shared limiter without mutating the limiter's tier: a budget
// multiplier of 0.5 passes requestCost=2, consuming RPM budget twice as fast
// per iteration and so halving the carousel's effective throughput.
func (l *Limiter) AcquireScaled(ctx context.Context, estimatedTokens int, requestCost float64) (*Guard, error) {
	if requestCost <= 0 {
		requestCost = 1
	}
	if err := l.acquireConcurrency(ctx); err != nil {
		return nil, err
	}
	guard := &Guard{limiter: l}

	if !l.rpdCount.Allow() {
		guard.Release()
		return nil, classify.RateLimitExceeded(secondsUntilMidnightUTC())
	}

	for {
		if ctx.Err() != nil {
			guard.Release()
			return nil, ctx.Err()
		}
		rpmWait := l.rpmBucket.WaitTime(requestCost)
		tpmWait := l.tpmBucket.WaitTime(float64(estimatedTokens))
		wait := rpmWait
		if tpmWait > wait {
			wait = tpmWait
		}
		if wait <= 0 {
			if l.rpmBucket.AllowN(requestCost) && l.tpmBucket.AllowN(float64(estimatedTokens)) {
				return guard, nil
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			guard.Release()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) acquireConcurrency(ctx context.Context) error {
	sem := l.loadSem()
	if sem == nil {
		return nil
	}
	select {
	case sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire is the non-blocking variant of Acquire: it returns (nil, false)
// immediately if any gate would block rather than waiting.
func (l *Limiter) TryAcquire(estimatedTokens int) (*Guard, bool) {
	if sem := l.loadSem(); sem != nil {
		select {
		case sem <- struct{}{}:
		default:
			return nil, false
		}
	}
	guard := &Guard{limiter: l}
	if !l.rpdCount.Allow() {
		guard.Release()
		return nil, false
	}
	if !l.rpmBucket.AllowN(1) || !l.tpmBucket.AllowN(float64(estimatedTokens)) {
		guard.Release()
		return nil, false
	}
	return guard, true
}

// AdaptToHeaders inspects a response's rate-limit headers and, if the
// inferred tier represents a strict upgrade over the current one (admits
// everything the old tier did, axis by axis), atomically swaps the active
// tier. Downgrades are accepted unconditionally. If no tier is inferred, or
// the inferred tier is larger on one axis and smaller on another, the
// limiter is left unchanged.
func (l *Limiter) AdaptToHeaders(snapshot HeaderSnapshot) {
	inferred, ok := InferTier(snapshot, l.knownTiers)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if inferred.Admits(l.tier) || l.tier.Admits(inferred) {
		l.tier = inferred
		l.rpmBucket.Replace(float64(inferred.RPM), 60)
		l.tpmBucket.Replace(float64(inferred.TPM), 60)
		l.rpdCount.SetLimit(inferred.RPD)
		if inferred.MaxConcurrent > 0 {
			l.resizeSemLocked(inferred.MaxConcurrent)
		}
	}
}

// resizeSemLocked swaps in a new semaphore of the requested size, pre-filled
// with as many of the old semaphore's outstanding holds as fit. New
// acquisitions observe the new size, and every Guard releases against
// whichever semaphore is current when it releases; a release that finds
// that semaphore empty (after a shrink) is dropped.
// Callers must hold l.mu; the swap itself is lock-free so acquireConcurrency
// and TryAcquire never need to take l.mu on their hot path.
func (l *Limiter) resizeSemLocked(size int) {
	old := l.loadSem()
	held := 0
	if old != nil {
		held = len(old)
	}
	newSem := make(chan struct{}, size)
	for i := 0; i < held && i < size; i++ {
		newSem <- struct{}{}
	}
	l.sem.Store(&newSem)
}

// ScaledBy returns a copy of this limiter's current tier with the given
// budget applied, used by narrative carousels to compute an admission cost
// without mutating shared limiter state.
func (l *Limiter) ScaledBy(budget BudgetConfig) TierConfig {
	t := l.Tier()
	return TierConfig{
		Name:          t.Name,
		RPM:           budget.ApplyRPM(t.RPM),
		TPM:           budget.ApplyTPM(t.TPM),
		RPD:           budget.ApplyRPD(t.RPD),
		MaxConcurrent: t.MaxConcurrent,
		DailyQuotaUSD: t.DailyQuotaUSD,
		CostPerMillionInputTokens:  t.CostPerMillionInputTokens,
		CostPerMillionOutputTokens: t.CostPerMillionOutputTokens,
	}
}

// WouldBlockPast reports whether admitting a request estimated to cost
// estimatedTokens would wait longer than patience before any gate admits
// it. It inspects the RPM/TPM buckets without consuming from them, so it
// is safe to call speculatively before deciding whether to run at all.
func (l *Limiter) WouldBlockPast(patience time.Duration, estimatedTokens int) bool {
	rpmWait := l.rpmBucket.WaitTime(1)
	tpmWait := l.tpmBucket.WaitTime(float64(estimatedTokens))
	wait := rpmWait
	if tpmWait > wait {
		wait = tpmWait
	}
	return wait > patience
}

func secondsUntilMidnightUTC() int {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return int(midnight.Sub(now).Seconds())
}
