// Package api implements sessiond's HTTP transport: routing, middleware,
// and the request/response glue described in spec.md §6. The handlers
// themselves are thin — all domain logic lives in internal/session and
// internal/sessionmgr.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sessionhost/sessiond/internal/auth"
	"github.com/sessionhost/sessiond/internal/logger"
	"github.com/sessionhost/sessiond/internal/sessionmgr"
)

type requestIDKey struct{}

// requestID returns the per-request correlation id installed by
// withRequestID, or "" if none is present (e.g. in a unit test that calls
// a handler directly).
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server wires the session manager to an HTTP router.
type Server struct {
	mgr     *sessionmgr.Manager
	checker *auth.Checker
	version string
	started time.Time
	limiter *rate.Limiter
}

// NewServer constructs a Server. version is surfaced on GET /health.
func NewServer(mgr *sessionmgr.Manager, checker *auth.Checker, version string) *Server {
	return &Server{
		mgr:     mgr,
		checker: checker,
		version: version,
		started: time.Now(),
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Router builds the full chi router: public health check, then the
// authenticated /v1 session surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withRequestID)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://127.0.0.1:*", "http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/session/start", s.handleStartSession)
		r.Get("/v1/sessions", s.handleListSessions)
		r.Get("/v1/session/{id}/info", s.handleSessionInfo)
		r.Post("/v1/session/{id}/exec", s.handleExec)
		r.Get("/v1/session/{id}/vars", s.handleVars)
		r.Post("/v1/session/{id}/vars/get", s.handleVarsGet)
		r.Get("/v1/session/{id}/history", s.handleHistory)
		r.Post("/v1/session/{id}/reset", s.handleReset)
		r.Delete("/v1/session/{id}", s.handleCloseSession)
	})

	return r
}

// ListenAndServe serves the router on addr until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	httpSrv := &http.Server{Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// withRequestID stamps every request with a correlation id, echoed back
// in the X-Request-Id response header and included in the recoverer's
// panic log so that log line can be traced back to a specific request.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.checker.Check(r); err != nil {
			if authErr, ok := err.(*auth.Error); ok {
				writeError(w, authErr.Status, authErr.Message)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic handling request", "panic", rec, "path", r.URL.Path, "request_id", requestID(r.Context()))
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Kind:      "ServiceInternalError",
					Message:   "an unexpected internal error occurred",
					Traceback: []string{fmt.Sprintf("%v", rec)},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
