package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Source is the random source consumed by the engines.
type Source interface {
	// IntN returns a value in [0, n). It panics if n <= 0.
	IntN(n int) int
	// Float64 returns a value in [0, 1).
	Float64() float64
}

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a Source seeded from the operating system's entropy pool.
func New() Source {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("rng: read seed: " + err.Error())
	}
	return NewSeeded(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
}

// NewSeeded returns a deterministic Source.
func NewSeeded(a, b uint64) Source {
	return &lockedSource{r: rand.New(rand.NewPCG(a, b))}
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// Between returns a value in [lo, hi]. Swapped bounds are tolerated.
func Between(src Source, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo == hi {
		return lo
	}
	return lo + src.IntN(hi-lo+1)
}

// Chance reports whether a draw lands under p.
func Chance(src Source, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return src.Float64() < p
}

// Script replays fixed draws. Floats and ints are consumed from separate
// queues. An exhausted int queue yields 0 and an exhausted float queue yields
// a value just below 1, so no probability check passes by accident.
type Script struct {
	mu     sync.Mutex
	Floats []float64
	Ints   []int
}

func (s *Script) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Ints) == 0 {
		return 0
	}
	v := s.Ints[0]
	s.Ints = s.Ints[1:]
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

func (s *Script) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Floats) == 0 {
		return 0.999999
	}
	v := s.Floats[0]
	s.Floats = s.Floats[1:]
	return v
}
