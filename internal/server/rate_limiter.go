package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/config"
	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket holding burst events that refills
// completely over interval.
func newRateLimiter(cfg config.RateLimit) *rate.Limiter {
	burst, interval := bucketShape(cfg)
	return rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst)
}

func bucketShape(cfg config.RateLimit) (int, time.Duration) {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	return burst, interval
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterPool hands out one limiter per key, e.g. per client IP.
// A key idle for a full refill interval has a full bucket again, the same
// as a new one, so it is dropped on the next sweep.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	cfg       config.RateLimit
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterPool(cfg config.RateLimit) *limiterPool {
	_, interval := bucketShape(cfg)
	return &limiterPool{
		m:         make(map[string]*limiterEntry),
		cfg:       cfg,
		idle:      interval,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastSweep) >= p.idle {
		p.sweepLocked(now)
	}
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{lim: newRateLimiter(p.cfg)}
		p.m[key] = e
	}
	e.seen = now
	return e.lim
}

func (p *limiterPool) sweepLocked(now time.Time) {
	for key, e := range p.m {
		if now.Sub(e.seen) >= p.idle {
			delete(p.m, key)
		}
	}
	p.lastSweep = now
}

// Allow consumes one token of key's bucket.
func (p *limiterPool) Allow(key string) bool {
	now := p.now()
	return p.get(key, now).AllowN(now, 1)
}

// Len reports the number of tracked keys.
func (p *limiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
