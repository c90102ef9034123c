// Package server is the reference visitor backend: a health endpoint for the
// keepalive pinger and the session, ping and active-count endpoints the
// presence tracker talks to.
package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"noto/internal/api"
	"noto/internal/logging"
	"noto/internal/storage"
)

const (
	DefaultSessionTTL = 3 * time.Minute
	DefaultRateLimit  = 5
	DefaultRateBurst  = 20
)

type Server struct {
	presence *Registry
	limiter  *RateLimiter
	metrics  *Metrics
	clock    clockwork.Clock
	logger   logging.Logger
	paths    api.Paths

	ttl          time.Duration
	rateLimit    float64
	rateBurst    int
	trustProxy   bool
	allowOrigins []string
}

type Option func(*Server)

func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithRateLimit sets the per-client token bucket. A non-positive limit
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = perSecond
		s.rateBurst = burst
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrDiscard(l) }
}

func WithPaths(p api.Paths) Option {
	return func(s *Server) { s.paths = p }
}

// WithTrustProxy makes the limiter key on the first X-Forwarded-For entry.
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// WithAllowOrigins sets the CORS origins. "*" allows any origin.
func WithAllowOrigins(origins ...string) Option {
	return func(s *Server) { s.allowOrigins = origins }
}

func NewServer(store *storage.Store, opts ...Option) *Server {
	s := &Server{
		metrics:      NewMetrics(),
		clock:        clockwork.NewRealClock(),
		logger:       logging.Discard(),
		paths:        api.DefaultPaths(),
		ttl:          DefaultSessionTTL,
		rateLimit:    DefaultRateLimit,
		rateBurst:    DefaultRateBurst,
		allowOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.presence = NewRegistry(store, s.ttl, s.clock)
	if s.rateLimit > 0 {
		s.limiter = NewRateLimiter(s.rateLimit, s.rateBurst, 10*time.Minute, s.clock)
	}
	return s
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Registry() *Registry {
	return s.presence
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.paths.Health, s.HandleHealth)
	mux.HandleFunc(s.paths.SessionStart, s.limited(s.HandleSessionStart))
	mux.HandleFunc(s.paths.SessionPing, s.limited(s.HandleSessionPing))
	mux.HandleFunc(s.paths.ActiveUsers, s.limited(s.HandleActiveUsers))
	mux.Handle("/metrics", s.metrics)
	return s.withCORS(mux)
}

// Janitor prunes expired sessions every interval until ctx ends.
func (s *Server) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := s.presence.Prune(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warnf("janitor: %v", err)
				}
				continue
			}
			s.metrics.AddPruned(n)
			if n > 0 {
				s.logger.Debugf("janitor pruned %d sessions", n)
			}
		}
	}
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(s.clientIP(r)) {
			s.metrics.IncRateLimited()
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   http.StatusText(http.StatusTooManyRequests),
			})
			return
		}
		next(w, r)
	}
}

func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range s.allowOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}
