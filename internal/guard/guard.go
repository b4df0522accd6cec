// Package guard implements the pre-admission gate for guest
// submissions: a per-submitter request budget and a mandatory
// cooldown between consecutive submissions. State lives in process
// memory keyed by tenant+submitter; it is not durable and not shared
// across instances, so multi-instance deployments get best-effort
// limiting unless the implementation is swapped for an externalized
// counter.
package guard

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrRateLimited is returned when the submitter has exhausted their
// request budget for the current window.
var ErrRateLimited = errors.New("rate limited")

// ErrCooldown is returned when the submitter retries before the
// cooldown since their previous submission has elapsed.
var ErrCooldown = errors.New("cooldown active")

// Limits carries the per-tenant guard settings, taken from the
// tenant's event config at submission time.
type Limits struct {
	MaxPerWindow int           // submissions allowed per window
	Cooldown     time.Duration // minimum gap between submissions
}

// SubmissionGuard admits or rejects a submission attempt. A nil
// error counts the attempt against the submitter's budget.
type SubmissionGuard interface {
	Allow(tenantID uint64, submitter string, limits Limits) error
}

type bucket struct {
	windowStart time.Time // counter resets at windowStart+window
	count       int
	lastSubmit  time.Time
}

// MemoryGuard is the in-process SubmissionGuard. The hourly budget
// uses fixed-window semantics: the counter resets at a boundary
// computed from first use, not a sliding log, so bursts across a
// boundary are possible and accepted.
type MemoryGuard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	now     func() time.Time
}

// NewMemoryGuard returns a guard with the given window length
// (normally one hour).
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	return &MemoryGuard{
		buckets: make(map[string]*bucket),
		window:  window,
		now:     time.Now,
	}
}

func key(tenantID uint64, submitter string) string {
	return strconv.FormatUint(tenantID, 10) + ":" + submitter
}

// Allow checks the cooldown first, then the window budget, and on
// success records the submission.
func (g *MemoryGuard) Allow(tenantID uint64, submitter string, limits Limits) error {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(tenantID, submitter)
	b, ok := g.buckets[k]
	if !ok {
		b = &bucket{windowStart: now}
		g.buckets[k] = b
	}
	// Fixed-window reset.
	if now.Sub(b.windowStart) >= g.window {
		b.windowStart = now
		b.count = 0
	}
	if limits.Cooldown > 0 && !b.lastSubmit.IsZero() && now.Sub(b.lastSubmit) < limits.Cooldown {
		return ErrCooldown
	}
	if limits.MaxPerWindow > 0 && b.count >= limits.MaxPerWindow {
		return ErrRateLimited
	}
	b.count++
	b.lastSubmit = now
	return nil
}

// RetryAfter estimates how long the submitter must wait before a
// rejected attempt could succeed. Used for the Retry-After hint.
func (g *MemoryGuard) RetryAfter(tenantID uint64, submitter string, limits Limits) time.Duration {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[key(tenantID, submitter)]
	if !ok {
		return 0
	}
	var wait time.Duration
	if limits.Cooldown > 0 && !b.lastSubmit.IsZero() {
		if d := limits.Cooldown - now.Sub(b.lastSubmit); d > wait {
			wait = d
		}
	}
	if limits.MaxPerWindow > 0 && b.count >= limits.MaxPerWindow {
		if d := g.window - now.Sub(b.windowStart); d > wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Prune drops buckets idle for longer than one window so the map does
// not grow unbounded over a long-running process. Run it from a
// ticker.
func (g *MemoryGuard) Prune() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, b := range g.buckets {
		if now.Sub(b.lastSubmit) > g.window && now.Sub(b.windowStart) > g.window {
			delete(g.buckets, k)
		}
	}
}
