// Package ratelimit throttles backend calls per target host with token
// buckets so repeated loads of one site do not flood it through the proxy.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webannotate/internal/metrics"
)

// defaultSweepAt is the bucket count at which idle buckets are dropped.
const defaultSweepAt = 256

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	sweepAt      int
}

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	RPS   float64
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		sweepAt:      defaultSweepAt,
	}
}

// Enabled reports whether calls can ever be delayed.
func (l *Limiter) Enabled() bool {
	return l != nil && l.defaultRate != rate.Inf
}

// Wait blocks until a token is available for the host of target.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	if !l.Enabled() {
		return nil
	}
	host := Host(target)
	start := time.Now()
	if err := l.limiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not worth a sample.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts returns the number of hosts with a bucket.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		if len(l.limiters) >= l.sweepAt {
			l.sweep(time.Now())
		}
		lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = lim
	}
	return lim
}

// sweep drops buckets that have refilled completely; a full bucket limits
// exactly like a new one. l.mu must be held.
func (l *Limiter) sweep(now time.Time) {
	for host, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.defaultBurst) {
			delete(l.limiters, host)
		}
	}
}

// Host returns the lower-cased host of target, or "unknown".
func Host(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
