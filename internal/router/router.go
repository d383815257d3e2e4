package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/soc-realtime/internal/metrics"
	"github.com/rickgao/soc-realtime/internal/protocol"
)

// Router fans inbound frames out to handlers and correlates requests with
// their responses.
type Router struct {
	cfg    Config
	logger *slog.Logger
	send   Sender
	newID  func() string

	mu       sync.RWMutex
	handlers map[string][]*entry
	taps     []*entry

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	dispatched    atomic.Int64
	unhandled     atomic.Int64
	handlerErrors atomic.Int64
	resolved      atomic.Int64
	unmatched     atomic.Int64
	timedOut      atomic.Int64
	rejected      atomic.Int64
}

type entry struct {
	h Handler
}

type result struct {
	frame protocol.Frame
	err   error
}

type pendingRequest struct {
	ch chan result // buffered, receives exactly one result
}

// New creates a Router that writes requests through send.
func New(cfg Config, send Sender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Router{
		cfg:      cfg,
		logger:   logger.With("component", "router"),
		send:     send,
		newID:    uuid.NewString,
		handlers: make(map[string][]*entry),
		pending:  make(map[string]*pendingRequest),
	}
}

// OnMessage registers h for frames of the given type. Handlers for the same
// type run in registration order. The returned func removes the handler.
func (r *Router) OnMessage(frameType string, h Handler) func() {
	e := &entry{h: h}
	r.mu.Lock()
	r.handlers[frameType] = append(r.handlers[frameType], e)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			hs := slices.DeleteFunc(slices.Clone(r.handlers[frameType]), func(x *entry) bool { return x == e })
			if len(hs) == 0 {
				delete(r.handlers, frameType)
			} else {
				r.handlers[frameType] = hs
			}
		})
	}
}

// OnAny registers h for every inbound frame, including responses consumed
// by a pending request. Taps run after type handlers.
func (r *Router) OnAny(h Handler) func() {
	e := &entry{h: h}
	r.mu.Lock()
	r.taps = append(r.taps, e)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.taps = slices.DeleteFunc(slices.Clone(r.taps), func(x *entry) bool { return x == e })
			r.mu.Unlock()
		})
	}
}

// Dispatch delivers f. A frame whose request_id matches a pending request
// resolves that request and skips the type handlers; Dispatch then reports
// true.
func (r *Router) Dispatch(f protocol.Frame) bool {
	r.mu.RLock()
	handlers := r.handlers[f.Type]
	taps := r.taps
	r.mu.RUnlock()

	consumed := false
	if f.RequestID != "" {
		if r.resolve(f) {
			consumed = true
		} else {
			r.unmatched.Add(1)
			r.logger.Debug("response matched no pending request",
				"type", f.Type,
				"request_id", f.RequestID,
			)
		}
	}

	if !consumed {
		if len(handlers) == 0 {
			r.unhandled.Add(1)
		} else {
			r.dispatched.Add(1)
		}
		for _, e := range handlers {
			r.invoke(e.h, f)
		}
	}

	for _, e := range taps {
		r.invoke(e.h, f)
	}
	return consumed
}

func (r *Router) invoke(h Handler, f protocol.Frame) {
	defer func() {
		if p := recover(); p != nil {
			r.handlerFailed(f, fmt.Errorf("handler panic: %v", p))
		}
	}()
	if err := h(f); err != nil {
		r.handlerFailed(f, err)
	}
}

func (r *Router) handlerFailed(f protocol.Frame, err error) {
	r.handlerErrors.Add(1)
	metrics.HandlerErrorsTotal.WithLabelValues(f.Kind().String()).Inc()
	r.logger.Warn("handler failed",
		"type", f.Type,
		"error", err,
	)
}

// Request sends f with a fresh request_id and waits for the correlated
// response. A zero timeout uses the configured default. Error frames are
// returned as *protocol.ServerError alongside the frame itself.
func (r *Router) Request(ctx context.Context, f protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	if timeout <= 0 {
		timeout = r.cfg.RequestTimeout
	}

	id := r.newID()
	f.RequestID = id
	p := &pendingRequest{ch: make(chan result, 1)}

	r.pendingMu.Lock()
	r.pending[id] = p
	r.pendingMu.Unlock()
	metrics.PendingRequests.Inc()
	defer r.forget(id)

	start := time.Now()
	observe := func(outcome string) {
		metrics.RequestDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	if r.send == nil || !r.send(f) {
		observe(metrics.OutcomeUnsent)
		return protocol.Frame{}, ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		if res.err != nil {
			observe(metrics.OutcomeClosed)
			return protocol.Frame{}, res.err
		}
		if se := protocol.AsServerError(res.frame); se != nil {
			observe(metrics.OutcomeError)
			return res.frame, se
		}
		observe(metrics.OutcomeOK)
		return res.frame, nil

	case <-timer.C:
		r.timedOut.Add(1)
		observe(metrics.OutcomeTimeout)
		r.logger.Debug("request timed out",
			"type", f.Type,
			"request_id", id,
			"timeout", timeout,
		)
		return protocol.Frame{}, fmt.Errorf("%w after %s (request_id %s)", ErrRequestTimeout, timeout, id)

	case <-ctx.Done():
		observe(metrics.OutcomeCanceled)
		return protocol.Frame{}, ctx.Err()
	}
}

func (r *Router) take(id string) (*pendingRequest, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
		metrics.PendingRequests.Dec()
	}
	return p, ok
}

func (r *Router) forget(id string) {
	r.take(id)
}

func (r *Router) resolve(f protocol.Frame) bool {
	p, ok := r.take(f.RequestID)
	if !ok {
		return false
	}
	r.resolved.Add(1)
	p.ch <- result{frame: f}
	return true
}

// RejectPending fails every outstanding request with err.
func (r *Router) RejectPending(err error) int {
	r.pendingMu.Lock()
	drained := r.pending
	r.pending = make(map[string]*pendingRequest)
	r.pendingMu.Unlock()

	for _, p := range drained {
		metrics.PendingRequests.Dec()
		p.ch <- result{err: err}
	}
	if n := len(drained); n > 0 {
		r.rejected.Add(int64(n))
		r.logger.Debug("rejected pending requests", "count", n, "error", err)
	}
	return len(drained)
}

// PendingCount returns the number of outstanding requests.
func (r *Router) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// Stats returns current router statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Dispatched:    r.dispatched.Load(),
		Unhandled:     r.unhandled.Load(),
		HandlerErrors: r.handlerErrors.Load(),
		Resolved:      r.resolved.Load(),
		Unmatched:     r.unmatched.Load(),
		TimedOut:      r.timedOut.Load(),
		Rejected:      r.rejected.Load(),
		Pending:       r.PendingCount(),
	}
}
