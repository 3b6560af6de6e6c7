// Package pool implements a generic, route-keyed connection pool: lease a
// connection for a Route, use it, Release it back (or drop it on error).
// The shape mirrors pgxpool.Pool's acquire/release idiom, generalized to any
// closeable resource and any notion of "route" (scheme + host + proxy).
package pool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Conn is the leasable resource a Pool manages. Callers provide a Factory
// that constructs one per Route.
type Conn interface {
	Close() error
}

// Route identifies the destination a connection is dialed for: scheme, host,
// and (if the request goes through one) proxy.
type Route struct {
	Scheme string
	Host   string
	Proxy  string
}

func (r Route) key() string {
	return r.Scheme + "://" + r.Host + "|" + r.Proxy
}

// Factory constructs a new Conn for route.
type Factory func(ctx context.Context, route Route) (Conn, error)

type pooledConn struct {
	conn      Conn
	idleSince time.Time
}

type waiter struct {
	result chan leaseResult
}

type leaseResult struct {
	conn Conn
	err  error
}

type routeState struct {
	route   Route
	free    []pooledConn
	numOpen int
	waiters []*waiter
	active  map[*Lease]struct{}
}

// Pool leases and reclaims Conn values per Route, bounding the number open
// both per route and across the pool as a whole, and reclaiming leases that
// are never explicitly released. At all times
// total_leased + total_free <= MaxTotalConnections, and for every route
// route.leased + route.free <= MaxPerRoute.
type Pool struct {
	factory Factory

	maxPerRoute    int
	maxTotal       int
	idleTimeout    time.Duration
	reclaimCeiling time.Duration
	metrics        Metrics
	dialLimiter    *rate.Limiter

	mu        sync.Mutex
	routes    map[string]*routeState
	totalOpen int
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Pool that leases connections from factory, configured by
// opts. The Pool starts its idle-eviction and leak-reclamation goroutines
// immediately; call Shutdown to stop them and close all free connections.
func New(factory Factory, opts ...Option) *Pool {
	p := &Pool{
		factory:        factory,
		maxPerRoute:    100,
		maxTotal:       200,
		idleTimeout:    60 * time.Second,
		reclaimCeiling: 5 * time.Minute,
		metrics:        noopMetrics{},
		routes:         make(map[string]*routeState),
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.reclaimLoop()
	if p.idleTimeout > 0 {
		p.wg.Add(1)
		go p.idleEvictLoop()
	}
	return p
}

// dial applies the optional dial rate limit, then calls the factory.
func (p *Pool) dial(ctx context.Context, route Route) (Conn, error) {
	if p.dialLimiter != nil {
		if err := p.dialLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return p.factory(ctx, route)
}

func (p *Pool) stateFor(route Route) *routeState {
	k := route.key()
	rs, ok := p.routes[k]
	if !ok {
		rs = &routeState{route: route, active: make(map[*Lease]struct{})}
		p.routes[k] = rs
	}
	return rs
}

// Lease returns a Conn for route: a free connection if one is available, a
// freshly constructed one if both route and the pool as a whole are under
// their caps, one obtained by stealing and evicting an idle connection from
// another route when route is under its own cap but the pool's global cap
// is what's blocking construction, or it blocks until one of those becomes
// true or ctx is done.
func (p *Pool) Lease(ctx context.Context, route Route) (*Lease, error) {
	started := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolShutdown
	}
	rs := p.stateFor(route)

	if n := len(rs.free); n > 0 {
		pc := rs.free[n-1]
		rs.free = rs.free[:n-1]
		p.mu.Unlock()
		return p.newLease(route, rs, pc.conn, started), nil
	}

	if rs.numOpen >= p.maxPerRoute {
		// The route itself is at capacity; no amount of global headroom
		// lets us exceed it. Wait for this route's own release.
		w := &waiter{result: make(chan leaseResult, 1)}
		rs.waiters = append(rs.waiters, w)
		p.mu.Unlock()
		return p.awaitWaiter(ctx, rs, w, route, started)
	}

	if p.totalOpen < p.maxTotal {
		rs.numOpen++
		p.totalOpen++
		p.mu.Unlock()
		conn, err := p.dial(ctx, route)
		if err != nil {
			p.mu.Lock()
			rs.numOpen--
			p.totalOpen--
			p.mu.Unlock()
			return nil, err
		}
		p.metrics.ConnOpened(route)
		return p.newLease(route, rs, conn, started), nil
	}

	// route has room but the pool as a whole does not: steal and evict an
	// idle connection from another route to stay within MaxTotalConnections.
	if stolenConn, victim, ok := p.stealFromOtherRouteLocked(route); ok {
		rs.numOpen++
		p.mu.Unlock()

		stolenConn.Close()
		p.metrics.ConnClosed(victim)

		conn, err := p.dial(ctx, route)
		if err != nil {
			p.mu.Lock()
			rs.numOpen--
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Lock()
		p.totalOpen++
		p.mu.Unlock()
		p.metrics.ConnOpened(route)
		return p.newLease(route, rs, conn, started), nil
	}

	w := &waiter{result: make(chan leaseResult, 1)}
	rs.waiters = append(rs.waiters, w)
	p.mu.Unlock()
	return p.awaitWaiter(ctx, rs, w, route, started)
}

func (p *Pool) awaitWaiter(ctx context.Context, rs *routeState, w *waiter, route Route, started time.Time) (*Lease, error) {
	select {
	case res := <-w.result:
		if res.err != nil {
			return nil, res.err
		}
		return p.newLease(route, rs, res.conn, started), nil
	case <-ctx.Done():
		p.removeWaiter(rs, w)
		p.metrics.LeaseTimedOut(route)
		return nil, ErrLeaseTimeout
	}
}

// stealFromOtherRouteLocked picks the oldest free connection belonging to
// any route other than route, removes its bookkeeping (including the
// pool-wide open count, since the caller is responsible for constructing
// route's own replacement connection), and returns it for the caller to
// close. Caller must hold p.mu.
func (p *Pool) stealFromOtherRouteLocked(route Route) (conn Conn, victim Route, ok bool) {
	selfKey := route.key()
	var oldest *routeState
	for k, rs := range p.routes {
		if k == selfKey || len(rs.free) == 0 {
			continue
		}
		if oldest == nil || rs.free[0].idleSince.Before(oldest.free[0].idleSince) {
			oldest = rs
		}
	}
	if oldest == nil {
		return nil, Route{}, false
	}
	pc := oldest.free[0]
	oldest.free = oldest.free[1:]
	oldest.numOpen--
	p.totalOpen--
	return pc.conn, oldest.route, true
}

func (p *Pool) removeWaiter(rs *routeState, w *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ww := range rs.waiters {
		if ww == w {
			rs.waiters = append(rs.waiters[:i], rs.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) newLease(route Route, rs *routeState, conn Conn, started time.Time) *Lease {
	l := &Lease{pool: p, route: route, conn: conn, leasedAt: started}

	p.mu.Lock()
	rs.active[l] = struct{}{}
	p.mu.Unlock()

	runtime.SetFinalizer(l, finalizeLease)
	p.metrics.LeaseAcquired(route)
	return l
}

func finalizeLease(l *Lease) {
	l.pool.reclaim(l)
}

// reclaim force-releases a lease that was never explicitly Released, either
// because it was garbage collected or because it exceeded reclaimCeiling.
func (p *Pool) reclaim(l *Lease) {
	p.Release(l, false)
}

// Release returns l's connection to the pool. If reusable is false, or the
// pool is shut down, the connection is closed instead of reused. Release is
// idempotent: calling it more than once on the same Lease after the first
// call has no further effect.
func (p *Pool) Release(l *Lease, reusable bool) {
	if !l.markReleased() {
		return
	}
	runtime.SetFinalizer(l, nil)

	p.mu.Lock()
	rs := p.stateFor(l.route)
	delete(rs.active, l)

	if !reusable || p.closed {
		rs.numOpen--
		p.totalOpen--
		p.wakeWaiterLocked(rs, l.route)
		p.mu.Unlock()
		l.conn.Close()
		p.metrics.ConnClosed(l.route)
		return
	}

	if len(rs.waiters) > 0 {
		w := rs.waiters[0]
		rs.waiters = rs.waiters[1:]
		p.mu.Unlock()
		w.result <- leaseResult{conn: l.conn}
		return
	}

	rs.free = append(rs.free, pooledConn{conn: l.conn, idleSince: time.Now()})
	p.mu.Unlock()
}

// wakeWaiterLocked hands a freshly-freed capacity slot to the next waiter on
// route, if any, by constructing a new connection for it. Caller holds p.mu;
// the factory call itself happens without the lock held.
func (p *Pool) wakeWaiterLocked(rs *routeState, route Route) {
	if len(rs.waiters) == 0 {
		return
	}
	w := rs.waiters[0]
	rs.waiters = rs.waiters[1:]
	rs.numOpen++
	p.totalOpen++
	go func() {
		conn, err := p.dial(context.Background(), route)
		if err != nil {
			p.mu.Lock()
			rs.numOpen--
			p.totalOpen--
			p.mu.Unlock()
			w.result <- leaseResult{err: err}
			return
		}
		p.metrics.ConnOpened(route)
		w.result <- leaseResult{conn: conn}
	}()
}

func (p *Pool) reclaimLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.reclaimCeiling / 4)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reclaimOverdue()
		}
	}
}

func (p *Pool) reclaimOverdue() {
	deadline := time.Now().Add(-p.reclaimCeiling)
	var overdue []*Lease
	p.mu.Lock()
	for _, rs := range p.routes {
		for l := range rs.active {
			if l.leasedAt.Before(deadline) {
				overdue = append(overdue, l)
			}
		}
	}
	p.mu.Unlock()
	for _, l := range overdue {
		p.reclaim(l)
	}
}

func (p *Pool) idleEvictLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	deadline := time.Now().Add(-p.idleTimeout)
	type closeJob struct {
		conn  Conn
		route Route
	}
	var toClose []closeJob

	p.mu.Lock()
	for _, rs := range p.routes {
		kept := rs.free[:0]
		for _, pc := range rs.free {
			if pc.idleSince.Before(deadline) {
				rs.numOpen--
				p.totalOpen--
				toClose = append(toClose, closeJob{conn: pc.conn, route: rs.route})
				continue
			}
			kept = append(kept, pc)
		}
		rs.free = kept
	}
	p.mu.Unlock()

	for _, job := range toClose {
		job.conn.Close()
		p.metrics.IdleEvicted(job.route)
	}
}

// Shutdown closes every free connection, stops the background goroutines,
// and rejects any Lease call (pending or future) with ErrPoolShutdown. It
// does not close leases still held by callers; those are closed as they are
// Released.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var toClose []Conn
	for _, rs := range p.routes {
		for _, pc := range rs.free {
			toClose = append(toClose, pc.conn)
			rs.numOpen--
			p.totalOpen--
		}
		rs.free = nil
		for _, w := range rs.waiters {
			w.result <- leaseResult{err: ErrPoolShutdown}
		}
		rs.waiters = nil
	}
	p.mu.Unlock()

	close(p.stop)

	for _, c := range toClose {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
