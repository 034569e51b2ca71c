package session

import (
	"sync"
	"time"
)

// connLimiter is a per-connection token bucket (§4.10 rate limiter),
// re-keyed from the teacher's per-IP HTTP middleware bucket to live inside
// one WS connection's read loop instead of behind a shared map.
type connLimiter struct {
	mu        sync.Mutex
	tokens    float64
	lastRefil time.Time
	rate      float64
	burst     float64
}

func newConnLimiter(rate float64, burst int) *connLimiter {
	b := float64(burst)
	if b < 1 {
		b = 1
	}
	return &connLimiter{tokens: b, lastRefil: time.Now(), rate: rate, burst: b}
}

// allow refills the bucket based on elapsed time and deducts one token,
// reporting whether the caller may proceed.
func (l *connLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefil).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefil = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
