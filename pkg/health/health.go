// Package health serves the /livez and /readyz endpoints.
//
// Every check is polled by its own goroutine. A check turns unhealthy after
// failAfter consecutive failures and healthy again after recoverAfter
// consecutive passes, so one slow ping does not take the instance out of the
// load balancer.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports whether a component is healthy. A nil error means it is.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a check is reported on.
type Kind int

const (
	// Liveness checks fail /livez and get the process restarted.
	Liveness Kind = iota
	// Readiness checks fail /readyz and stop traffic to the instance.
	Readiness
)

const (
	defaultFailAfter    = 3
	defaultRecoverAfter = 1
)

// notReady is reported on /readyz until SetReady(true).
const notReady = "_readiness"

// CheckOption tunes a single check.
type CheckOption func(*check)

// WithThresholds sets how many consecutive failures mark the check unhealthy
// and how many consecutive passes mark it healthy again. Values below 1 keep
// the defaults of 3 and 1.
func WithThresholds(failAfter, recoverAfter int) CheckOption {
	return func(c *check) {
		if failAfter > 0 {
			c.failAfter = failAfter
		}
		if recoverAfter > 0 {
			c.recoverAfter = recoverAfter
		}
	}
}

// check is polled from a single goroutine. fails and passes are owned by that
// goroutine; healthy and lastErr are read by HTTP handlers.
type check struct {
	name         string
	timeout      time.Duration
	fn           CheckFunc
	failAfter    int
	recoverAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails  int
	passes int
}

// observe runs the check once and applies the thresholds.
func (c *check) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= c.failAfter {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	c.passes++
	if c.passes >= c.recoverAfter {
		c.healthy.Store(true)
	}
}

// failure returns the message to report while c is unhealthy.
func (c *check) failure() (string, bool) {
	if c.healthy.Load() {
		return "", false
	}
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error(), true
	}
	return "check is unhealthy", true
}

// poll observes c immediately and then every interval until ctx is done.
func (c *check) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.observe(ctx)
		}
	}
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks [2][]*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check of the given kind. Checks start healthy.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	c := &check{
		name:         name,
		timeout:      timeout,
		fn:           fn,
		failAfter:    defaultFailAfter,
		recoverAfter: defaultRecoverAfter,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[kind] = append(h.checks[kind], c)
}

// AddLivenessCheck registers a process-level check such as goroutine count.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.Add(Liveness, name, timeout, fn, opts...)
}

// AddReadinessCheck registers a dependency check such as a database ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.Add(Readiness, name, timeout, fn, opts...)
}

// Start polls every registered check at interval until ctx is done or Stop is
// called. Register checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	all := slices.Concat(h.checks[Liveness], h.checks[Readiness])
	h.mu.Unlock()

	for _, c := range all {
		go c.poll(ctx, interval)
	}
}

// Stop ends polling. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness flag: true once wiring is done, false
// when draining on shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// failures maps the name of each unhealthy check of kind to its last error.
func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	checks := slices.Clone(h.checks[kind])
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range checks {
		if msg, failed := c.failure(); failed {
			out[c.name] = msg
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. It also fails while the instance is not
// marked ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures[notReady] = "service is not ready"
	}
	writeResponse(w, failures)
}

// writeResponse answers 200 {"status":"ok"} or 503 with the failed checks
// sorted by name.
func writeResponse(w http.ResponseWriter, failures map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failures) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failures) == 0 {
			return
		}
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// The client may be gone; nothing to do about it.
	_, _ = w.Write(e.Bytes())
}
