package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/alertrun/internal/alert"
	"github.com/sawpanic/alertrun/internal/broadcast"
)

// requestIDKey is the context key the request-ID middleware stores
// under.
type requestIDKey struct{}

// Config carries the HTTP server's bind address and timeouts.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the status HTTP/WebSocket surface.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	server   *http.Server
	config   Config
}

// NewServer builds a Server wired to registry and the broadcast hubs.
func NewServer(cfg Config, registry *alert.Registry, users *broadcast.UserHub, densityHub *broadcast.DensityHub) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: NewHandlers(registry, users, densityHub),
		config:   cfg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	api.HandleFunc("/alerts/all", s.handlers.ListAllAlerts).Methods(http.MethodGet)
	// OPTIONS is listed so the CORS middleware sees preflights; it
	// answers them before the handler runs.
	api.HandleFunc("/alerts", s.handlers.ListAlerts).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/alerts", s.handlers.CreateAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.handlers.DeleteAllAlerts).Methods(http.MethodDelete)
	api.HandleFunc("/alerts/{id}", s.handlers.DeleteAlert).Methods(http.MethodDelete, http.MethodOptions)

	// WebSocket routes bypass the JSON content-type subrouter: they
	// upgrade the connection themselves.
	s.router.HandleFunc("/alerts/{user_id}", s.handlers.WSAlerts).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/densities", s.handlers.WSDensities).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("httpapi: request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("httpapi: listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
