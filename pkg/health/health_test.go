package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toggle is a dependency whose health the test flips.
type toggle struct {
	mu  sync.Mutex
	err error
}

func (d *toggle) set(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *toggle) Check(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func serve(t *testing.T, endpoint http.HandlerFunc) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, w.Body.String()
}

// observeN runs the only check of kind n times.
func observeN(t *testing.T, h *Health, kind Kind, n int) {
	t.Helper()
	require.Len(t, h.checks[kind], 1)
	for range n {
		h.checks[kind][0].observe(context.Background())
	}
}

func TestWriteResponse(t *testing.T) {
	tests := []struct {
		name     string
		failures map[string]string
		code     int
		body     string
	}{
		{
			name: "healthy",
			code: http.StatusOK,
			body: `{"status":"ok"}`,
		},
		{
			name:     "sorted by name",
			failures: map[string]string{"rabbitmq": "channel closed", "postgres": "timeout", "_readiness": "service is not ready"},
			code:     http.StatusServiceUnavailable,
			body:     `{"status":"unhealthy","checks":{"_readiness":"service is not ready","postgres":"timeout","rabbitmq":"channel closed"}}`,
		},
		{
			name:     "escaped message",
			failures: map[string]string{"postgres": `dial "db": refused`},
			code:     http.StatusServiceUnavailable,
			body:     `{"status":"unhealthy","checks":{"postgres":"dial \"db\": refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeResponse(w, tt.failures)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
}

func TestLiveEndpoint_Thresholds(t *testing.T) {
	dep := &toggle{}
	h := New()
	h.AddLivenessCheck("live_subscribers", time.Second, dep.Check)

	code, body := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, `{"status":"ok"}`, body)

	dep.set(errors.New("live subscriber count 9 exceeds threshold 8"))
	observeN(t, h, Liveness, defaultFailAfter-1)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below the failure threshold")

	observeN(t, h, Liveness, 1)
	code, body = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, `{"status":"unhealthy","checks":{"live_subscribers":"live subscriber count 9 exceeds threshold 8"}}`, body)

	dep.set(nil)
	observeN(t, h, Liveness, 1)
	code, _ = serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "one pass recovers by default")
}

func TestWithThresholds(t *testing.T) {
	dep := &toggle{err: errors.New("connection refused")}
	h := New()
	h.AddReadinessCheck("postgres", time.Second, dep.Check, WithThresholds(2, 2))
	h.SetReady(true)

	observeN(t, h, Readiness, 1)
	assert.True(t, h.IsReady())
	observeN(t, h, Readiness, 1)
	assert.False(t, h.IsReady())

	dep.set(nil)
	observeN(t, h, Readiness, 1)
	assert.False(t, h.IsReady(), "needs two passes to recover")
	observeN(t, h, Readiness, 1)
	assert.True(t, h.IsReady())

	c := &check{failAfter: defaultFailAfter, recoverAfter: defaultRecoverAfter}
	WithThresholds(0, -1)(c)
	assert.Equal(t, defaultFailAfter, c.failAfter)
	assert.Equal(t, defaultRecoverAfter, c.recoverAfter)
}

func TestReadyEndpoint(t *testing.T) {
	pg := &toggle{}
	mq := &toggle{err: errors.New("channel closed")}
	h := New()
	h.AddReadinessCheck("postgres", time.Second, pg.Check)
	h.AddReadinessCheck("rabbitmq", time.Second, mq.Check, WithThresholds(1, 1))

	code, body := serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, body)

	h.SetReady(true)
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, `{"status":"ok"}`, body)

	for _, c := range h.checks[Readiness] {
		c.observe(context.Background())
	}
	code, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, `{"status":"unhealthy","checks":{"rabbitmq":"channel closed"}}`, body)

	// Draining on shutdown.
	mq.set(nil)
	h.checks[Readiness][1].observe(context.Background())
	h.SetReady(false)
	assert.False(t, h.IsReady())
	_, body = serve(t, h.ReadyEndpoint)
	assert.Equal(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, body)
}

func TestReadinessDoesNotAffectLiveness(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		return errors.New("down")
	}, WithThresholds(1, 1))
	observeN(t, h, Readiness, 1)

	code, _ := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("rabbitmq", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))
	observeN(t, h, Readiness, 1)

	failures := h.failures(Readiness)
	assert.Equal(t, context.DeadlineExceeded.Error(), failures["rabbitmq"])
}

func TestStartPollsUntilStopped(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentReads(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, func(context.Context) error { return errors.New("leak") })
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error { return nil })
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				serve(t, h.LiveEndpoint)
				serve(t, h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
}

func TestCountCheck(t *testing.T) {
	n := 3
	check := CountCheck("live subscriber", func() int { return n }, 3)
	assert.NoError(t, check(context.Background()))

	n = 4
	assert.EqualError(t, check(context.Background()), "live subscriber count 4 exceeds threshold 3")

	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.ErrorContains(t, GoroutineCountCheck(0)(context.Background()), "goroutine count")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
