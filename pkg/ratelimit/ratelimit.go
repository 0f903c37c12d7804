// Package ratelimit bounds how often a given agent may cross a rate-
// limited surface (the HTTP proxy-forward route) — a
// per-key token bucket over golang.org/x/time/rate, not a policy
// decision: exceeding it always yields a fixed "rate limited" outcome,
// never a rule lookup.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token-bucket rate.Limiter per key (typically an
// agent_id), created lazily on first use.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New builds a Limiter allowing rps events per second per key, with
// burst allowed immediately.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the named key may proceed right now, consuming
// one token if so.
func (l *Limiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	return lim
}
