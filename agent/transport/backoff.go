package transport

import "time"

// Backoff yields reconnect waits that double from Base up to Max.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff starting at base and clamped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = 5 * time.Second
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max}
}

// Next returns the wait before the next attempt and advances the ladder.
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Base
	}
	wait := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return wait
}

// Reset returns the ladder to Base after a successful connect.
func (b *Backoff) Reset() {
	b.current = b.Base
}
