// Package anticheat flags scripted input in timed click minigames using only
// the spacing between clicks. The rules are heuristics meant to make naive
// macros expensive, not to prove intent.
package anticheat

import (
	"math"
	"sync"
	"time"

	"ecobot/internal/clock"
)

const (
	ReasonTooFast      = "clicks are too fast"
	ReasonTooUniform   = "click rhythm is too regular"
	ReasonFirstTooSoon = "first click came too soon"
	ReasonConstant     = "click interval is constant"
	ReasonOutOfOrder   = "click timestamps are out of order"
)

// Thresholds tune the rejection rules.
type Thresholds struct {
	MinMeanDelta  time.Duration `toml:"min_mean_delta"`
	MinVariation  float64       `toml:"min_variation"`
	MinFirstDelta time.Duration `toml:"min_first_delta"`
	MinSpread     time.Duration `toml:"min_spread"`
	// MinSamples is the number of clicks before any rule applies.
	MinSamples int `toml:"min_samples"`
	// SpreadSamples is the number of clicks before the spread rule applies.
	SpreadSamples int `toml:"spread_samples"`
}

// DefaultThresholds returns the production tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinMeanDelta:  120 * time.Millisecond,
		MinVariation:  0.10,
		MinFirstDelta: 100 * time.Millisecond,
		MinSpread:     25 * time.Millisecond,
		MinSamples:    3,
		SpreadSamples: 4,
	}
}

// Verdict is the outcome of a Sample.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type sequence struct {
	start  time.Time
	window time.Duration
	stamps []time.Time
}

// Detector tracks click sequences keyed by minigame attempt.
type Detector struct {
	mu    sync.Mutex
	clock clock.Clock
	th    Thresholds
	seqs  map[string]*sequence
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the time source used for omitted timestamps and pruning.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithThresholds replaces the default tuning.
func WithThresholds(th Thresholds) Option {
	return func(d *Detector) { d.th = th }
}

// New returns a Detector with no tracked sequences.
func New(opts ...Option) *Detector {
	d := &Detector{
		clock: clock.Real(),
		th:    DefaultThresholds(),
		seqs:  make(map[string]*sequence),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sample records a click for key and judges the sequence so far. A zero at
// means now. When the window has elapsed, from the declared start for a new
// key or from the last restart otherwise, the click opens a fresh window at
// at and passes. Later clicks are measured from it. A rejected sequence is
// forgotten.
func (d *Detector) Sample(key string, start time.Time, window time.Duration, at time.Time) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	if at.IsZero() {
		at = d.clock.Now()
	}
	seq, ok := d.seqs[key]
	if !ok {
		seq = &sequence{start: start, window: window}
		d.seqs[key] = seq
	}
	if seq.window > 0 && at.Sub(seq.start) > seq.window {
		seq.start = at
		seq.stamps = seq.stamps[:0]
		return Verdict{OK: true}
	}
	seq.stamps = append(seq.stamps, at)

	v := d.judge(seq)
	if !v.OK {
		delete(d.seqs, key)
	}
	return v
}

func (d *Detector) judge(seq *sequence) Verdict {
	n := len(seq.stamps)
	if n < d.th.MinSamples {
		return Verdict{OK: true}
	}

	deltas := make([]float64, n)
	prev := seq.start
	for i, ts := range seq.stamps {
		delta := ts.Sub(prev)
		if delta < 0 {
			return Verdict{Reason: ReasonOutOfOrder}
		}
		deltas[i] = float64(delta) / float64(time.Millisecond)
		prev = ts
	}

	mean, stddev, lo, hi := describe(deltas)
	if mean < ms(d.th.MinMeanDelta) {
		return Verdict{Reason: ReasonTooFast}
	}
	if mean > 0 && stddev/mean < d.th.MinVariation {
		return Verdict{Reason: ReasonTooUniform}
	}
	if deltas[0] < ms(d.th.MinFirstDelta) {
		return Verdict{Reason: ReasonFirstTooSoon}
	}
	if n >= d.th.SpreadSamples && hi-lo < ms(d.th.MinSpread) {
		return Verdict{Reason: ReasonConstant}
	}
	return Verdict{OK: true}
}

func describe(xs []float64) (mean, stddev, lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range xs {
		mean += x
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		stddev += (x - mean) * (x - mean)
	}
	stddev = math.Sqrt(stddev / float64(len(xs)))
	return mean, stddev, lo, hi
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Reset forgets key. Minigames call it when an attempt completes or fails.
func (d *Detector) Reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seqs, key)
}

// Prune drops sequences older than twice their window and returns how many
// were removed.
func (d *Detector) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	removed := 0
	for key, seq := range d.seqs {
		if seq.window > 0 && now.Sub(seq.start) > 2*seq.window {
			delete(d.seqs, key)
			removed++
		}
	}
	return removed
}

// Len reports how many sequences are tracked.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seqs)
}
