// Package cooldown gates repeatable actions behind per-key expiries. Keys are
// global; callers namespace them, e.g. "work:" + userID.
package cooldown

import (
	"sync"
	"time"

	"ecobot/internal/clock"
)

// Result is the outcome of a Check.
type Result struct {
	OK        bool          `json:"ok"`
	Remaining time.Duration `json:"remaining"`
}

// Registry is a keyed store of cooldown expiries.
type Registry struct {
	mu       sync.Mutex
	clock    clock.Clock
	expiries map[string]time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{clock: clock.Real(), expiries: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check claims key for d when no unexpired claim exists. Otherwise it
// reports how long the existing claim still runs.
func (r *Registry) Check(key string, d time.Duration) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if until, ok := r.expiries[key]; ok && now.Before(until) {
		return Result{OK: false, Remaining: until.Sub(now)}
	}
	r.expiries[key] = now.Add(d)
	return Result{OK: true}
}

// Remaining reports the time left on key without claiming it.
func (r *Registry) Remaining(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.expiries[key]
	if !ok {
		return 0
	}
	if left := until.Sub(r.clock.Now()); left > 0 {
		return left
	}
	return 0
}

// Clear forgets key.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.expiries, key)
}

// Sweep drops elapsed entries and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	removed := 0
	for key, until := range r.expiries {
		if !now.Before(until) {
			delete(r.expiries, key)
			removed++
		}
	}
	return removed
}

// Len reports how many keys are tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expiries)
}
