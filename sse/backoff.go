package sse

import (
	"math/rand"
	"time"
)

// BackoffPolicy decides whether and how long to wait before a reconnect
// attempt. serverHint is the most recent value announced by the stream via
// a retry: field (zero if the server never sent one).
type BackoffPolicy interface {
	NextDelay(attempt int, previous time.Duration, serverHint time.Duration) time.Duration
	ShouldReconnect(attempt int, previous time.Duration, serverHint time.Duration) bool
}

// FixedBackoff reconnects after the same delay every time, deferring to the
// server's retry hint when one has been announced.
type FixedBackoff struct {
	Delay      time.Duration
	MaxRetries int // 0 means unlimited
}

func (b FixedBackoff) NextDelay(attempt int, previous, serverHint time.Duration) time.Duration {
	if serverHint > 0 {
		return serverHint
	}
	return b.Delay
}

func (b FixedBackoff) ShouldReconnect(attempt int, previous, serverHint time.Duration) bool {
	return b.MaxRetries == 0 || attempt <= b.MaxRetries
}

// ExponentialJitterBackoff doubles the delay on each attempt up to Max, with
// up to +/-Jitter fraction of randomness to avoid reconnect stampedes.
type ExponentialJitterBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Jitter     float64 // fraction of the computed delay, e.g. 0.2 for +/-20%
	MaxRetries int      // 0 means unlimited
}

func (b ExponentialJitterBackoff) NextDelay(attempt int, previous, serverHint time.Duration) time.Duration {
	if serverHint > 0 {
		return serverHint
	}
	base := b.Initial
	for i := 1; i < attempt && base < b.Max; i++ {
		base *= 2
	}
	if base > b.Max {
		base = b.Max
	}
	if b.Jitter <= 0 {
		return base
	}
	delta := float64(base) * b.Jitter
	offset := (rand.Float64()*2 - 1) * delta
	d := time.Duration(float64(base) + offset)
	if d < 0 {
		d = 0
	}
	return d
}

func (b ExponentialJitterBackoff) ShouldReconnect(attempt int, previous, serverHint time.Duration) bool {
	return b.MaxRetries == 0 || attempt <= b.MaxRetries
}

// NeverReconnect treats every disconnect as terminal.
type NeverReconnect struct{}

func (NeverReconnect) NextDelay(attempt int, previous, serverHint time.Duration) time.Duration {
	return 0
}

func (NeverReconnect) ShouldReconnect(attempt int, previous, serverHint time.Duration) bool {
	return false
}
