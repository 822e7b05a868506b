// Package circuit implements the fast-fail gate placed in front of the
// distributed store and the backplane.
package circuit

import (
	"sync/atomic"
	"time"
)

// Breaker opens for a fixed window once threshold consecutive failures have been
// recorded. While open, callers are expected to skip I/O entirely.
// A Breaker with a non-positive duration never opens.
type Breaker struct {
	duration  time.Duration
	threshold int32

	failures  atomic.Int32
	openUntil atomic.Int64 // unix nano; 0 = closed
	now       func() time.Time
}

func New(duration time.Duration, threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		duration:  duration,
		threshold: int32(threshold),
		now:       time.Now,
	}
}

// Enabled reports whether the breaker can ever open.
func (b *Breaker) Enabled() bool { return b.duration > 0 }

// IsClosed reports whether operations may proceed. justClosed is true for exactly
// one caller when an open window elapses.
func (b *Breaker) IsClosed() (closed, justClosed bool) {
	if !b.Enabled() {
		return true, false
	}
	until := b.openUntil.Load()
	if until == 0 {
		return true, false
	}
	if b.now().UnixNano() < until {
		return false, false
	}
	if b.openUntil.CompareAndSwap(until, 0) {
		b.failures.Store(0)
		return true, true
	}
	return true, false
}

// TryOpen records a failure. Once the threshold is reached the open window is
// started (or extended). justOpened is true when the breaker went from closed to open.
func (b *Breaker) TryOpen() (justOpened bool) {
	if !b.Enabled() {
		return false
	}
	if b.failures.Add(1) < b.threshold {
		return false
	}
	until := b.now().Add(b.duration).UnixNano()
	for {
		prev := b.openUntil.Load()
		if prev >= until {
			return false
		}
		if b.openUntil.CompareAndSwap(prev, until) {
			return prev == 0
		}
	}
}

// Close records a success and resets the failure count. It reports whether the
// breaker was open.
func (b *Breaker) Close() (wasOpen bool) {
	b.failures.Store(0)
	return b.openUntil.Swap(0) != 0
}

// IsOpen is the negation of IsClosed without consuming the justClosed transition.
func (b *Breaker) IsOpen() bool {
	until := b.openUntil.Load()
	return until != 0 && b.now().UnixNano() < until
}
