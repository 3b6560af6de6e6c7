package pool

import (
	"sync/atomic"
	"time"
)

// Lease is a leased Conn checked out of a Pool. Callers must call
// Pool.Release exactly once when done; a Lease left unreleased is reclaimed
// by the pool's reclaim-overdue supervisor once it has been held longer than
// the reclaim ceiling. Each Lease also carries a finalizer, but the pool's
// active set keeps every unreleased Lease reachable, so the garbage collector
// does not reclaim a Lease that is still outstanding.
//
// Lease intentionally holds only a pool pointer, not a back-reference from
// the pool to itself beyond the active-set membership, so a leaked Lease
// does not keep its Pool's route state artificially alive.
type Lease struct {
	pool     *Pool
	route    Route
	conn     Conn
	leasedAt time.Time
	released int32
}

// Conn returns the leased connection.
func (l *Lease) Conn() Conn {
	return l.conn
}

// Route returns the route this lease was acquired for.
func (l *Lease) Route() Route {
	return l.route
}

// markReleased flips released from false to true exactly once, returning
// whether this call performed the transition.
func (l *Lease) markReleased() bool {
	return atomic.CompareAndSwapInt32(&l.released, 0, 1)
}
