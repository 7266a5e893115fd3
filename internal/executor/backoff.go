package executor

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DoublingBackOff waits Base * 2^(n-1) plus a random jitter in [0, Jitter)
// before retry n
type DoublingBackOff struct {
	Base    time.Duration
	Jitter  time.Duration
	attempt int
}

var _ backoff.BackOff = (*DoublingBackOff)(nil)

// NewDoublingBackOff creates a new doubling backoff
func NewDoublingBackOff(base, jitter time.Duration) *DoublingBackOff {
	return &DoublingBackOff{Base: base, Jitter: jitter}
}

// NextBackOff returns the wait before the next attempt
func (b *DoublingBackOff) NextBackOff() time.Duration {
	b.attempt++
	delay := b.Base * time.Duration(1<<(b.attempt-1))
	if b.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(b.Jitter)))
	}
	return delay
}

// Reset starts the sequence over
func (b *DoublingBackOff) Reset() {
	b.attempt = 0
}

// Floor returns the delay before retry n without jitter
func (b *DoublingBackOff) Floor(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return b.Base * time.Duration(1<<(n-1))
}
