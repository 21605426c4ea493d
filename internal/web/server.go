// Package web provides the HTTP server for serve mode: a dashboard and a
// small JSON API for triggering runs and inspecting staged tables.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/datastage/internal/history"
	"github.com/JonMunkholm/datastage/internal/pipeline"
	"github.com/JonMunkholm/datastage/internal/tables"
	"github.com/JonMunkholm/datastage/internal/warehouse"
	webmw "github.com/JonMunkholm/datastage/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackContentType selects the MessagePack encoding on data endpoints.
const MsgpackContentType = "application/msgpack"

// Pipeline is the part of pipeline.Service the server uses.
type Pipeline interface {
	Run(ctx context.Context) (*pipeline.Result, error)
	Status() pipeline.GateStatus
	Tables() ([]tables.TableFile, error)
	Manifest() (*pipeline.Manifest, error)
	History(ctx context.Context, limit int) ([]history.Run, error)
	Profile(ctx context.Context, name string, opts warehouse.ProfileOptions) ([]warehouse.ColumnSummary, error)
}

// Options configures a Server.
type Options struct {
	ReadTimeout time.Duration
	// TrustedProxies lists CIDRs allowed to set X-Real-IP / X-Forwarded-For.
	TrustedProxies []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for serve mode.
type Server struct {
	pipeline Pipeline
	opts     Options
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new Server instance.
func NewServer(p Pipeline, opts Options) *Server {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	s := &Server{
		pipeline: p,
		opts:     opts,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	s.router.Get("/", s.handleDashboard)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{name}/profile", s.handleProfile)

		r.Get("/runs", s.handleListRuns)
		r.Post("/runs", s.handleTriggerRun)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.opts.ReadTimeout,
		// Runs are served synchronously and may take minutes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writeData writes v as MessagePack when the client asks for it and as JSON
// otherwise. Field names follow the json tags in both encodings.
func writeData(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !strings.Contains(r.Header.Get("Accept"), MsgpackContentType) {
		writeJSON(w, status, v)
		return
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		slog.Error("msgpack encode error", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to encode msgpack", Message: "failed to encode msgpack", Code: "ERR000"})
		return
	}
	w.Header().Set("Content-Type", MsgpackContentType)
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
