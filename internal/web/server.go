// Package web provides the HTTP API and dashboard of the product importer.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/product-importer/internal/config"
	"github.com/JonMunkholm/product-importer/internal/core"
	mw "github.com/JonMunkholm/product-importer/internal/web/middleware"
)

// maxJSONBody bounds product and webhook request bodies.
const maxJSONBody = 1 << 20

// Server is the HTTP server of the importer.
type Server struct {
	service  *core.Service
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// NewServer creates a Server with its middleware and routes.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)

	if s.cfg.Security.EnableCSP {
		s.router.Use(securityHeaders)
	}

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newLimiter(s.cfg.Rate.RequestsPerMinute).middleware)
	}
}

func (s *Server) newLimiter(perMinute int) *rateLimiter {
	rl := newRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

// setupRoutes configures all HTTP routes. The progress stream is mounted
// outside the request timeout and uploads run under the upload read timeout.
func (s *Server) setupRoutes() {
	timeout := middleware.Timeout(s.cfg.Server.RequestTimeout)

	var upload []func(http.Handler) http.Handler
	if s.cfg.Upload.ReadTimeout > 0 {
		upload = append(upload, middleware.Timeout(s.cfg.Upload.ReadTimeout))
	}
	if s.cfg.Rate.Enabled {
		upload = append(upload, s.newLimiter(s.cfg.Rate.UploadLimit).middleware)
	}

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(timeout)
		r.Get("/", s.handleDashboard)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		r.Route("/imports", func(r chi.Router) {
			r.With(upload...).Post("/upload", s.handleUpload)
			r.Get("/{jobID}/stream", s.handleImportStream)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", s.handleListImports)
				r.Get("/{jobID}/status", s.handleImportStatus)
				r.Delete("/{jobID}", s.handleDeleteImport)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(timeout)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", s.handleListProducts)
				r.Post("/", s.handleCreateProduct)
				r.Delete("/", s.handleDeleteAllProducts)
				r.Get("/stats/summary", s.handleProductStats)
				r.Get("/{id}", s.handleGetProduct)
				r.Put("/{id}", s.handleUpdateProduct)
				r.Delete("/{id}", s.handleDeleteProduct)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", s.handleListWebhooks)
				r.Post("/", s.handleCreateWebhook)
				r.Get("/events/types", s.handleEventTypes)
				r.Get("/{id}", s.handleGetWebhook)
				r.Put("/{id}", s.handleUpdateWebhook)
				r.Delete("/{id}", s.handleDeleteWebhook)
				r.Post("/{id}/test", s.handleTestWebhook)
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its rate limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Close()
	}
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
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// messageResponse is the body of mutations that return no resource.
type messageResponse struct {
	Message string `json:"message"`
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &core.ValidationError{Problems: []string{"request body is required"}}
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return &core.ValidationError{Problems: []string{fmt.Sprintf("malformed JSON: %v", err)}}
	}
	return nil
}
