package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// state is the EventSource's connection lifecycle, per the SSE readyState
// model generalized with an explicit CLOSING phase for in-flight shutdown.
type state int32

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
	stateClosing
	stateClosed
)

// Listener receives EventSource lifecycle callbacks. All methods are called
// from the EventSource's single background goroutine, never concurrently.
type Listener interface {
	OnOpen()
	OnEvent(Event)
	OnRetry(time.Duration)
	OnFailure(err error, terminal bool)
	OnClosed()
}

// Doer is the HTTP collaborator contract an EventSource uses to connect.
// *http.Client satisfies it directly, as does any httpcache.Transport- or
// pool-backed client built on top of one.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EventSource connects to an SSE endpoint and dispatches Events to a
// Listener, transparently reconnecting (with Last-Event-ID resumption)
// according to a BackoffPolicy until the policy or the caller gives up.
type EventSource struct {
	url      string
	doer     Doer
	listener Listener

	backoff        BackoffPolicy
	headers        map[string]string
	connectTimeout time.Duration

	mu    sync.Mutex
	state state

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an EventSource for url, using doer to issue requests and
// listener to receive lifecycle events. It does not connect until Start is
// called.
func New(url string, doer Doer, listener Listener, opts ...Option) *EventSource {
	e := &EventSource{
		url:      url,
		doer:     doer,
		listener: listener,
		backoff: ExponentialJitterBackoff{
			Initial: 500 * time.Millisecond,
			Max:     30 * time.Second,
			Jitter:  0.2,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins connecting in a background goroutine and returns
// immediately. ctx bounds the entire lifetime of the EventSource; canceling
// it is equivalent to calling Close.
func (e *EventSource) Start(ctx context.Context) {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = stateConnecting
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(runCtx)
}

// Close stops the EventSource. It is idempotent and safe to call more than
// once, including concurrently with Start's background goroutine shutting
// down on its own.
func (e *EventSource) Close() error {
	e.mu.Lock()
	if e.state == stateClosed || e.state == stateIdle {
		e.mu.Unlock()
		return nil
	}
	e.state = stateClosing
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (e *EventSource) setState(s state) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *EventSource) run(ctx context.Context) {
	defer close(e.done)
	defer e.setState(stateClosed)
	defer e.listener.OnClosed()

	var lastEventID string
	var serverHint time.Duration
	attempt := 0

	for {
		attempt++
		resp, err := e.connect(ctx, lastEventID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrNoContent) {
				e.listener.OnFailure(err, true)
				return
			}
			if !e.backoff.ShouldReconnect(attempt, 0, serverHint) {
				e.listener.OnFailure(err, true)
				return
			}
			e.listener.OnFailure(err, false)
			if !e.wait(ctx, e.backoff.NextDelay(attempt, 0, serverHint)) {
				return
			}
			continue
		}

		e.setState(stateOpen)
		e.listener.OnOpen()
		attempt = 0

		hint, streamErr := e.readStream(ctx, resp, &lastEventID)
		resp.Body.Close()
		if hint > 0 {
			serverHint = hint
		}

		if ctx.Err() != nil {
			return
		}
		if !e.backoff.ShouldReconnect(attempt, 0, serverHint) {
			e.listener.OnFailure(streamErr, true)
			return
		}
		e.listener.OnFailure(streamErr, false)
		delay := e.backoff.NextDelay(attempt, 0, serverHint)
		e.listener.OnRetry(delay)
		if !e.wait(ctx, delay) {
			return
		}
	}
}

func (e *EventSource) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// connect performs one initial-connect attempt, wrapped with a retry +
// circuit breaker pair built the same way resilience.go builds the cache
// Transport's: reconnect delays themselves are governed by BackoffPolicy
// (which understands server retry hints), but the raw dial is protected
// against hot-looping on a downed endpoint.
func (e *EventSource) connect(ctx context.Context, lastEventID string) (*http.Response, error) {
	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			return err != nil && !errors.Is(err, ErrNoContent)
		}).
		WithMaxRetries(2).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			return err != nil && !errors.Is(err, ErrNoContent)
		}).
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		Build()

	policies := []failsafe.Policy[*http.Response]{retry, breaker}
	return failsafe.With(policies...).Get(func() (*http.Response, error) {
		return e.doOnce(ctx, lastEventID)
	})
}

func (e *EventSource) doOnce(ctx context.Context, lastEventID string) (*http.Response, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if e.connectTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, e.connectTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.doer.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, ErrNoContent
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d content-type %q", ErrProtocolProblem, resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	return resp, nil
}

// readStream feeds the response body into a Parser until it ends or ctx is
// canceled, updating *lastEventID as ids arrive so the next reconnect can
// resume. It returns the most recent server-announced retry hint (zero if
// none was sent) and the error that ended the stream.
func (e *EventSource) readStream(ctx context.Context, resp *http.Response, lastEventID *string) (time.Duration, error) {
	var serverHint time.Duration
	parser := NewParser(
		func(evt Event) { e.listener.OnEvent(evt) },
		func(id string) { *lastEventID = id },
		func(d time.Duration) { serverHint = d },
	)

	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return serverHint, ctx.Err()
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				parser.End()
				return serverHint, ErrServerClosed
			}
			return serverHint, err
		}
	}
}
