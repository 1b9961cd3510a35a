package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit caps mutating staking calls per client source. A zero or negative
// RequestsPerMinute disables the limiter.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type sourceLimiter struct {
	cfg RateLimit

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newSourceLimiter(cfg RateLimit) *sourceLimiter {
	return &sourceLimiter{
		cfg:      cfg,
		visitors: make(map[string]*rate.Limiter),
	}
}

func (l *sourceLimiter) allow(source string) bool {
	if l.cfg.RequestsPerMinute <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	limiter, ok := l.visitors[source]
	if !ok {
		perSecond := rate.Limit(l.cfg.RequestsPerMinute / 60)
		burst := l.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(perSecond, burst)
		l.visitors[source] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
