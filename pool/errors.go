package pool

import "errors"

// ErrLeaseTimeout is returned by Lease when ctx is done before a connection
// becomes available.
var ErrLeaseTimeout = errors.New("pool: lease timed out waiting for a connection")

// ErrPoolShutdown is returned by Lease once Shutdown has been called, and
// delivered to every waiter blocked on Lease at the time Shutdown runs.
var ErrPoolShutdown = errors.New("pool: pool is shut down")
