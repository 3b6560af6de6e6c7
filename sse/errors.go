package sse

import "errors"

// ErrProtocolProblem is reported to Listener.OnFailure when the server
// responds to the initial connect with a non-2xx status or a Content-Type
// other than text/event-stream.
var ErrProtocolProblem = errors.New("sse: server did not open an event stream")

// ErrServerClosed is reported to Listener.OnFailure when the underlying
// connection ends cleanly (EOF) rather than erroring, distinguishing a
// server-initiated close from a network failure.
var ErrServerClosed = errors.New("sse: server closed the connection")

// ErrNoContent is reported to Listener.OnFailure, with terminal set to true,
// when the server answers the initial connect with 204 No Content: a
// deliberate signal that the client should stop, not reconnect.
var ErrNoContent = errors.New("sse: server responded 204 No Content")
