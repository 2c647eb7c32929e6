// Package server provides the operator HTTP API of the game server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/insuresim/underwriter/internal/database"
	"github.com/insuresim/underwriter/internal/database/repositories"
	"github.com/insuresim/underwriter/internal/domain"
	"github.com/insuresim/underwriter/internal/events"
	"github.com/insuresim/underwriter/internal/plugins"
	"github.com/insuresim/underwriter/internal/scheduler"
	"github.com/insuresim/underwriter/internal/turns"
	"github.com/insuresim/underwriter/internal/work"
)

// TurnProcessor runs the turn pipeline.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, semesterID int64, opts turns.Options) (*turns.Report, error)
	OpenTurn(ctx context.Context, semesterID int64) (*domain.Turn, error)
	Busy() bool
}

// Config holds server configuration
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	DB           *database.DB
	Store        *repositories.Store
	Orchestrator TurnProcessor
	Plugins      *plugins.Manager
	Bus          *events.Bus
	WorkRegistry *work.Registry
	Work         *work.Processor
	Scheduler    *scheduler.Scheduler
	// ProcessTimeout is the budget above which a manual run is logged as slow.
	// Runs are never cancelled.
	ProcessTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	started time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		started: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Manual turn runs and the websocket stream outlive a short write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json"))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/semesters/{semesterID}", func(r chi.Router) {
			r.Get("/turns", s.handleListTurns)
			r.Post("/process", s.handleProcessTurn)
			r.Post("/open", s.handleOpenTurn)
		})
		r.Route("/turns/{turnID}", func(r chi.Router) {
			r.Get("/", s.handleGetTurn)
			r.Post("/retry", s.handleRetryTurn)
			r.Put("/companies/{companyID}/decision", s.handleSubmitDecision)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/history", s.handleEventHistory)
			r.Get("/handlers", s.handleEventHandlers)
			r.Get("/errors", s.handleHandlerErrors)
			r.Get("/stream", NewEventStream(s.cfg.Bus, s.log).ServeHTTP)
		})

		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", s.handleListPlugins)
			r.Post("/{name}/enable", s.handleEnablePlugin)
			r.Post("/{name}/disable", s.handleDisablePlugin)
		})

		r.Get("/system/status", s.handleSystemStatus)
	})

	if s.cfg.Work != nil && s.cfg.WorkRegistry != nil {
		work.NewHandlers(s.cfg.Work, s.cfg.WorkRegistry).RegisterRoutes(s.router)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
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
