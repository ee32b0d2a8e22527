package frame

import (
	"fmt"
	"sync/atomic"
)

// Sampler decides which camera frames are forwarded to inference.
// Every call counts one frame; every Nth frame is on-sample.
// The counter is never reset, only its value modulo N matters.
type Sampler struct {
	interval atomic.Int64
	count    atomic.Uint64
}

// NewSampler creates a sampler that forwards every nth frame.
func NewSampler(n int) (*Sampler, error) {
	s := &Sampler{}
	if err := s.SetInterval(n); err != nil {
		return nil, err
	}
	return s, nil
}

// ShouldForward increments the frame counter and reports whether the
// new count is a multiple of the interval.
func (s *Sampler) ShouldForward() bool {
	c := s.count.Add(1)
	return c%uint64(s.interval.Load()) == 0
}

// SetInterval changes N without touching the counter.
func (s *Sampler) SetInterval(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: sample interval must be >= 1, got %d", ErrInvalidConfiguration, n)
	}
	s.interval.Store(int64(n))
	return nil
}

// Interval returns the current N.
func (s *Sampler) Interval() int {
	return int(s.interval.Load())
}

// Count returns how many frames have been seen.
func (s *Sampler) Count() uint64 {
	return s.count.Load()
}
