// Package api exposes a ragcore engine over HTTP.
//
// Routes:
//
//	POST   /api/v1/projects/:project/ingest     start an ingestion session (202)
//	GET    /api/v1/projects/:project/sessions   list a project's sessions
//	GET    /api/v1/projects/:project/progress   progress as Server-Sent Events
//	GET    /api/v1/projects/:project/sessions/:id  one session record
//	POST   /api/v1/query                        retrieval query
//	GET    /api/v1/cache/stats                  cache statistics
//	DELETE /api/v1/cache?url=...                drop one cached page
//	GET    /metrics                             Prometheus metrics
//	GET    /health                              liveness
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/poiesic/ragcore"
)

// DefaultHeartbeat is the interval between SSE keep-alive comments.
const DefaultHeartbeat = 30 * time.Second

// ErrEngineRequired is returned when NewServer gets no engine.
var ErrEngineRequired = errors.New("engine required")

// Server serves the HTTP API of one engine.
type Server struct {
	echo      *echo.Echo
	engine    *ragcore.Engine
	heartbeat time.Duration
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithHeartbeat sets the SSE keep-alive interval. Default is DefaultHeartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) error {
		if d > 0 {
			s.heartbeat = d
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewServer creates the HTTP server for engine.
func NewServer(engine *ragcore.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}

	s := &Server{
		engine:    engine,
		heartbeat: DefaultHeartbeat,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.logger.Debug("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	})

	s.echo = e
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.engine.Metrics().Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/projects/:project/ingest", s.handleIngest)
	v1.GET("/projects/:project/sessions", s.handleListSessions)
	v1.GET("/projects/:project/progress", s.handleProgress)
	v1.GET("/projects/:project/sessions/:id", s.handleGetSession)
	v1.POST("/query", s.handleQuery)
	v1.GET("/cache/stats", s.handleCacheStats)
	v1.DELETE("/cache", s.handleCacheInvalidate)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
