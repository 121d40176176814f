package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// fakeClock is a settable time source for the limiter.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Set(t time.Time) { c.now = t }

var lunch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newLimited(t *testing.T, cfg RateLimitConfig) (http.Handler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: lunch}
	cfg.Now = clock.Now
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	return RateLimit(cfg)(okHandler()), clock
}

func hit(h http.Handler, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Rejects(t *testing.T) {
	h, _ := newLimited(t, RateLimitConfig{Max: 2})

	for _, left := range []string{"1", "0"} {
		w := hit(h, "/api/menu/R1", "198.51.100.7:4000")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, left, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := hit(h, "/api/menu/R1", "198.51.100.7:4001")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, strconv.FormatInt(lunch.Add(time.Minute).Unix(), 10), w.Header().Get("X-RateLimit-Reset"))

	// Another guest has a budget of its own.
	assert.Equal(t, http.StatusOK, hit(h, "/api/menu/R1", "198.51.100.8:4000").Code)
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	h, clock := newLimited(t, RateLimitConfig{Max: 2})
	const guest = "198.51.100.7:4000"

	hit(h, "/", guest)
	hit(h, "/", guest)

	clock.Set(lunch.Add(40 * time.Second))
	w := hit(h, "/", guest)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "20", w.Header().Get("Retry-After"))

	// Halfway through the next window half of the previous one still counts.
	clock.Set(lunch.Add(90 * time.Second))
	assert.Equal(t, http.StatusOK, hit(h, "/", guest).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "/", guest).Code)

	// After two idle windows the history is gone.
	clock.Set(lunch.Add(5 * time.Minute))
	w = hit(h, "/", guest)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_SkipHealthChecks(t *testing.T) {
	h, _ := newLimited(t, RateLimitConfig{
		Max:  1,
		Skip: func(r *http.Request) bool { return r.URL.Path == "/livez" || r.URL.Path == "/readyz" },
	})

	for range 3 {
		for _, path := range []string{"/livez", "/readyz"} {
			w := hit(h, path, "")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get("X-RateLimit-Limit"), "health checks are not counted")
		}
	}

	assert.Equal(t, http.StatusOK, hit(h, "/api/menu/R1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "/api/menu/R1", "").Code)
}

func TestRateLimit_KeyFunc(t *testing.T) {
	h, _ := newLimited(t, RateLimitConfig{
		Max:     1,
		KeyFunc: func(r *http.Request) string { return r.URL.Path },
	})

	assert.Equal(t, http.StatusOK, hit(h, "/api/menu/R1", "").Code)
	assert.Equal(t, http.StatusOK, hit(h, "/api/menu/R2", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "/api/menu/R1", "").Code)
}

func TestLimiter_Evict(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	l.take("a", lunch)
	l.take("b", lunch.Add(90*time.Second))

	l.evict(lunch.Add(119 * time.Second))
	assert.Len(t, l.windows, 2)

	l.evict(lunch.Add(150 * time.Second))
	assert.Len(t, l.windows, 1)
	assert.Contains(t, l.windows, "b")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "203.0.113.9:5555", want: "203.0.113.9"},
		{name: "remote without port", remote: "203.0.113.9", want: "203.0.113.9"},
		{
			name:    "first forwarded hop",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.2"},
			remote:  "10.0.0.3:80",
			want:    "198.51.100.4",
		},
		{
			name:    "real ip",
			headers: map[string]string{"X-Real-IP": " 198.51.100.5 "},
			remote:  "10.0.0.3:80",
			want:    "198.51.100.5",
		},
		{
			name:    "empty forwarded falls through",
			headers: map[string]string{"X-Forwarded-For": " ,10.0.0.2", "X-Real-IP": "198.51.100.6"},
			remote:  "10.0.0.3:80",
			want:    "198.51.100.6",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
