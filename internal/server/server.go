// Package server provides the HTTP server and routing for stockwatch.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/aristath/stockwatch/internal/modules/ledger"
	"github.com/aristath/stockwatch/internal/modules/valuation"
	"github.com/aristath/stockwatch/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Port      int
	DevMode   bool
	DB        *database.DB
	Repo      domain.PositionRepository
	Ledger    *ledger.Service
	Valuation *valuation.Service
	PlotStart *time.Time    // portfolio inception, clamps chart output
	BackupJob scheduler.Job // nil when backups are not configured
}

// Server represents the HTTP server
type Server struct {
	router           *chi.Mux
	server           *http.Server
	log              zerolog.Logger
	positionHandlers *PositionHandlers
	systemHandlers   *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:           chi.NewRouter(),
		log:              cfg.Log.With().Str("component", "server").Logger(),
		positionHandlers: NewPositionHandlers(cfg.Repo, cfg.Ledger, cfg.Valuation, cfg.PlotStart, cfg.Log),
		systemHandlers:   NewSystemHandlers(cfg.DB, cfg.BackupJob, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// Update-all fans out network fetches, give it room
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/report", s.positionHandlers.HandleReport)

	s.router.Route("/positions", func(r chi.Router) {
		r.Get("/", s.positionHandlers.HandleList)
		r.Post("/", s.positionHandlers.HandleCreate)
		r.Get("/plot", s.positionHandlers.HandlePlot)
		r.Get("/chart.png", s.positionHandlers.HandleChart)
		r.Post("/update", s.positionHandlers.HandleUpdateAll)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.positionHandlers.HandleDelete)
			r.Post("/update", s.positionHandlers.HandleUpdate)
			r.Post("/close", s.positionHandlers.HandleClose)
			r.Post("/reopen", s.positionHandlers.HandleReopen)
			r.Post("/refresh", s.positionHandlers.HandleRefresh)
		})
	})

	s.router.Route("/api/system", func(r chi.Router) {
		r.Get("/", s.systemHandlers.HandleSystemStatus)
		r.Post("/backup", s.systemHandlers.HandleBackup)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "stockwatch",
	}, s.log)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string, log zerolog.Logger) {
	writeJSON(w, status, map[string]string{"error": msg}, log)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
