// Package httpapi provides the bugbind webhook and stats HTTP API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/bugbind/internal/config"
	"github.com/fyrsmithlabs/bugbind/internal/corrections"
	"github.com/fyrsmithlabs/bugbind/internal/match"
	"github.com/fyrsmithlabs/bugbind/internal/workflow"
)

// Workflows is the orchestrator surface the server exposes over HTTP.
type Workflows interface {
	BugCreated(ctx context.Context, bugKey, runID string) (*workflow.BugCreatedResult, error)
	BugResolved(ctx context.Context, bugKey string) (*workflow.BugResolvedResult, error)
	Correction(ctx context.Context, bugKey, runID, text string) (*workflow.CorrectionResult, error)
}

// StatsSource provides learning statistics.
type StatsSource interface {
	Statistics(ctx context.Context) (corrections.Statistics, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// WebhookSecret authenticates webhook callers via the
	// X-Webhook-Secret header. Empty disables the check.
	WebhookSecret config.Secret

	// RateLimitPerMinute caps webhook requests per client IP.
	RateLimitPerMinute int
}

// Server provides HTTP endpoints for bugbind.
type Server struct {
	echo      *echo.Echo
	workflows Workflows
	stats     StatsSource
	metrics   *Metrics
	limiter   *ipRateLimiter
	logger    *zap.Logger
	config    *Config
}

// NewServer creates a new HTTP server.
func NewServer(workflows Workflows, stats StatsSource, metrics *Metrics, logger *zap.Logger, cfg *Config) (*Server, error) {
	if workflows == nil {
		return nil, fmt.Errorf("workflows cannot be nil")
	}
	if stats == nil {
		return nil, fmt.Errorf("stats source cannot be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090, RateLimitPerMinute: 60}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(metrics.Middleware())

	s := &Server{
		echo:      e,
		workflows: workflows,
		stats:     stats,
		metrics:   metrics,
		limiter:   newIPRateLimiter(cfg.RateLimitPerMinute),
		logger:    logger,
		config:    cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)

	hooks := v1.Group("/webhook", s.rateLimitMiddleware(), s.webhookAuthMiddleware())
	hooks.POST("/bug-created", s.handleBugCreated)
	hooks.POST("/bug-resolved", s.handleBugResolved)
	hooks.POST("/correction", s.handleCorrection)
}

// webhookAuthMiddleware checks the shared webhook secret.
func (s *Server) webhookAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !s.config.WebhookSecret.IsSet() {
				return next(c)
			}
			given := c.Request().Header.Get("X-Webhook-Secret")
			want := s.config.WebhookSecret.Value()
			if subtle.ConstantTimeCompare([]byte(given), []byte(want)) != 1 {
				s.logger.Warn("webhook secret mismatch", zap.String("ip", clientIP(c.Request())))
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
			}
			return next(c)
		}
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// BugCreatedRequest is the request body for POST /api/v1/webhook/bug-created.
type BugCreatedRequest struct {
	BugKey string `json:"bug_key"`
	RunID  string `json:"run_id"`
}

func (s *Server) handleBugCreated(c echo.Context) error {
	var req BugCreatedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BugKey == "" || req.RunID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "bug_key and run_id are required")
	}

	res, err := s.workflows.BugCreated(c.Request().Context(), req.BugKey, req.RunID)
	if err != nil {
		return s.mapError(c, err)
	}

	for _, m := range res.Matches {
		s.metrics.RecordMatch(m.Learned, m.AutoMatched)
	}
	return c.JSON(http.StatusOK, res)
}

// BugResolvedRequest is the request body for POST /api/v1/webhook/bug-resolved.
type BugResolvedRequest struct {
	BugKey string `json:"bug_key"`
}

func (s *Server) handleBugResolved(c echo.Context) error {
	var req BugResolvedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BugKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "bug_key is required")
	}

	res, err := s.workflows.BugResolved(c.Request().Context(), req.BugKey)
	if err != nil {
		return s.mapError(c, err)
	}

	for _, out := range res.Outcomes {
		s.metrics.RecordOutcome(out.Outcome)
	}
	return c.JSON(http.StatusOK, res)
}

// CorrectionRequest is the request body for POST /api/v1/webhook/correction.
type CorrectionRequest struct {
	BugKey string `json:"bug_key"`
	RunID  string `json:"run_id"`
	Text   string `json:"text"`
}

func (s *Server) handleCorrection(c echo.Context) error {
	var req CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BugKey == "" || req.RunID == "" || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "bug_key, run_id, and text are required")
	}

	res, err := s.workflows.Correction(c.Request().Context(), req.BugKey, req.RunID, req.Text)
	if err != nil {
		return s.mapError(c, err)
	}

	s.metrics.RecordCorrection()
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.stats.Statistics(c.Request().Context())
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, match.ErrInvalidCorrectionSyntax):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, match.ErrRunNotFound), errors.Is(err, match.ErrNoCandidates):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, match.ErrMatchingTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, match.ErrInvalidModelOutput), errors.Is(err, match.ErrNoValidMatches):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("workflow failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
