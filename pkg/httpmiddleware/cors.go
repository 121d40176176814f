package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS for the guest web app and the owner dashboard,
// which are served from their own origins.
type CORSConfig struct {
	// AllowOrigins lists allowed origins, matched case-insensitively. Empty
	// or "*" allows any origin.
	AllowOrigins []string

	// AllowMethods defaults to GET, POST, PUT, PATCH and OPTIONS.
	AllowMethods []string

	// AllowHeaders defaults to the headers the web clients send: JSON bodies,
	// the owner bearer token, the request id and Last-Event-ID on stream
	// reconnects.
	AllowHeaders []string

	// ExposeHeaders defaults to the request id, the Location of a placed
	// order and the rate limit headers.
	ExposeHeaders []string

	// AllowCredentials makes the middleware echo the caller's origin instead
	// of "*", since browsers reject credentials with a wildcard.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero omits the
	// header; a negative value sends "0".
	MaxAge int
}

var (
	defaultAllowMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions,
	}
	defaultAllowHeaders = []string{
		"Content-Type", "Authorization", RequestIDHeader, "Last-Event-ID",
	}
	defaultExposeHeaders = []string{
		RequestIDHeader,
		"Location",
		"Retry-After",
		"X-RateLimit-Limit",
		"X-RateLimit-Remaining",
		"X-RateLimit-Reset",
	}
)

func orDefault(v, def []string) string {
	if len(v) == 0 {
		v = def
	}
	return strings.Join(v, ", ")
}

// corsPolicy is CORSConfig resolved into header values once.
type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]string // lowercase -> configured spelling
	credentials bool
	methods     string
	headers     string
	expose      string
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		credentials: cfg.AllowCredentials,
		methods:     orDefault(cfg.AllowMethods, defaultAllowMethods),
		headers:     orDefault(cfg.AllowHeaders, defaultAllowHeaders),
		expose:      orDefault(cfg.ExposeHeaders, defaultExposeHeaders),
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[strings.ToLower(o)] = o
	}
	if len(cfg.AllowOrigins) == 0 {
		p.anyOrigin = true
	}
	switch {
	case cfg.MaxAge > 0:
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	case cfg.MaxAge < 0:
		p.maxAge = "0"
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when it is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.anyOrigin && !p.credentials:
		return "*"
	case p.anyOrigin:
		return origin
	}
	return p.origins[strings.ToLower(origin)]
}

// variesByOrigin reports whether responses differ per Origin and caches must
// key on it.
func (p *corsPolicy) variesByOrigin() bool {
	return !p.anyOrigin || p.credentials
}

func (p *corsPolicy) preflight(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allow := p.allowOrigin(origin); allow != "" {
		h.Set("Access-Control-Allow-Origin", allow)
		h.Set("Access-Control-Allow-Methods", p.methods)
		h.Set("Access-Control-Allow-Headers", p.headers)
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	// Disallowed origins get a bare 204 and the browser blocks the call.
	w.WriteHeader(http.StatusNoContent)
}

func (p *corsPolicy) actual(w http.ResponseWriter, origin string) {
	h := w.Header()
	if p.variesByOrigin() {
		h.Add("Vary", "Origin")
	}
	allow := p.allowOrigin(origin)
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	h.Set("Access-Control-Expose-Headers", p.expose)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

// CORS answers preflight requests itself and decorates other cross-origin
// responses. Requests without an Origin header pass through untouched apart
// from Vary.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
				if p.variesByOrigin() {
					w.Header().Add("Vary", "Origin")
				}
			case r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "":
				p.preflight(w, origin)
				return
			default:
				p.actual(w, origin)
			}
			next.ServeHTTP(w, r)
		})
	}
}
