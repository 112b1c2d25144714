package publisher

import (
	"math/rand"
	"sync"

	"hivelog/pkg/platform/audit"
)

// Sampler keeps a configurable fraction of high-volume events. Audit events
// are never sampled; the other kinds use a per-kind rate or the default.
type Sampler struct {
	mu          sync.RWMutex
	defaultRate float64
	rateByKind  map[audit.Kind]float64
}

// NewSampler creates a sampler with the given default rate.
// Rate should be between 0.0 (keep nothing) and 1.0 (keep everything).
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate: clamp(defaultRate),
		rateByKind:  make(map[audit.Kind]float64),
	}
}

// Keep reports whether an event of kind should be published.
func (s *Sampler) Keep(kind audit.Kind) bool {
	if s == nil || kind == audit.KindAudit {
		return true
	}
	rate := s.rateFor(kind)
	if rate >= 1 {
		return true
	}
	return rand.Float64() < rate //nolint:gosec // sampling doesn't need crypto rand
}

// SetRate overrides the rate for one kind.
func (s *Sampler) SetRate(kind audit.Kind, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByKind[kind] = clamp(rate)
}

func (s *Sampler) rateFor(kind audit.Kind) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.rateByKind[kind]; ok {
		return rate
	}
	return s.defaultRate
}

func clamp(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
