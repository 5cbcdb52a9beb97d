package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/commands"
	"github.com/lazypower/confidant/internal/engine"
	"github.com/lazypower/confidant/internal/logging"
)

// Server is the confidant HTTP API server.
type Server struct {
	eng     *engine.Engine
	cmds    *commands.Dispatcher
	router  chi.Router
	version string
	token   string
	logger  *zap.Logger
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every API route
// except health.
func WithToken(token string) Option { return func(s *Server) { s.token = token } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a new Server over eng. cmds handles the messaging webhook.
func New(eng *engine.Engine, cmds *commands.Dispatcher, version string, opts ...Option) *Server {
	s := &Server{
		eng:     eng,
		cmds:    cmds,
		version: version,
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrNop(s.logger).Named("http")
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Post("/messages", s.handleMessage)

			r.Route("/principals/{principalID}", func(r chi.Router) {
				r.Post("/memories", s.handleRemember)
				r.Get("/memories", s.handleListMemories)
				r.Get("/memories/{entryID}", s.handleGetMemory)
				r.Delete("/memories/{entryID}", s.handleDeleteMemory)

				r.Post("/passphrase", s.handleEnroll)
				r.Post("/unlock", s.handleUnlock)
				r.Post("/lock", s.handleLock)
				r.Get("/status", s.handleStatus)

				r.Get("/search", s.handleSearch)
				r.Get("/audit", s.handleAudit)
				r.Get("/digest", s.handleDigest)
			})
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.eng.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.eng.DB.Path,
	})
}

// requireToken rejects requests without the configured bearer token. With no
// token configured every request passes.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request metrics and a debug log line per request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Label by route pattern so path ids do not explode cardinality.
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		Requests.WithLabelValues(r.Method, route, statusClass(status)).Inc()
		Duration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
