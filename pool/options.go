package pool

import (
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithMaxPerRoute caps the number of connections (free + leased) a Pool
// keeps open for a single Route. The default is 100.
func WithMaxPerRoute(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxPerRoute = n
		}
	}
}

// WithMaxTotal caps the number of connections (free + leased) a Pool keeps
// open across all routes combined. The default is 200. When a route is
// under its own per-route cap but this global cap is reached, the Pool
// steals and evicts an idle connection from another route rather than
// refusing the lease outright.
func WithMaxTotal(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxTotal = n
		}
	}
}

// WithIdleTimeout sets how long a free connection may sit unused before the
// idle-eviction loop closes it. The default is 60 seconds; zero disables
// idle eviction entirely.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.idleTimeout = d
	}
}

// WithReclaimCeiling sets how long a Lease may be held before the
// supervisor goroutine force-reclaims it regardless of whether the caller
// ever called Release. The default is 5 minutes.
func WithReclaimCeiling(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.reclaimCeiling = d
		}
	}
}

// WithMetrics attaches a Metrics sink. The default is a no-op sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithDialRateLimit throttles how often the factory may be invoked to
// construct a brand new connection, independent of the per-route capacity
// bound. This protects a flaky or rate-limiting origin from a thundering
// herd of simultaneous Lease calls against an empty pool.
func WithDialRateLimit(r rate.Limit, burst int) Option {
	return func(p *Pool) {
		p.dialLimiter = rate.NewLimiter(r, burst)
	}
}
