package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/recipebot/internal/command"
	coreprocessor "github.com/recipebot/internal/core_processor"
	"github.com/recipebot/internal/jobqueue"
	"github.com/recipebot/internal/pipeline"
	"github.com/recipebot/internal/webhookauth"
)

// Verifier authenticates raw webhooks.
type Verifier interface {
	Verify(ctx context.Context, req webhookauth.Request) (webhookauth.Result, error)
}

// EventParser turns an authenticated body into a trigger event.
type EventParser interface {
	Supports(platform string) bool
	ParseEvent(platform string, headers map[string]string, body []byte) (*coreprocessor.TriggerEvent, error)
}

// RunLister reads the run log.
type RunLister interface {
	ListRuns(ctx context.Context, target string, limit int) ([]coreprocessor.RunRecord, error)
}

// Options configure a Server. Gatherer, Metrics and AdminKeyHash are optional.
type Options struct {
	Addr            string
	BodyLimit       string
	ShutdownTimeout time.Duration
	// AdminKeyHash is a bcrypt hash; empty leaves /api/v1 unregistered.
	AdminKeyHash string
	Platforms    []string

	Verifier   Verifier
	Parser     EventParser
	Detector   *command.Detector
	Dispatcher jobqueue.Dispatcher
	Runs       RunLister
	Metrics    *pipeline.Metrics
	Gatherer   prometheus.Gatherer
	Logger     zerolog.Logger
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	opts Options
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = "5M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(requestLogger(opts.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(opts.BodyLimit))

	server := &Server{echo: e, opts: opts}
	server.setupRoutes()
	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	if s.opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	hooks := s.echo.Group("/webhooks")
	for _, platform := range s.opts.Platforms {
		if s.opts.Parser != nil && !s.opts.Parser.Supports(platform) {
			continue
		}
		hooks.POST("/"+platform, s.handleWebhook(platform))
	}

	if s.opts.AdminKeyHash != "" && s.opts.Runs != nil {
		v1 := s.echo.Group("/api/v1", adminKeyAuth(s.opts.AdminKeyHash))
		v1.GET("/runs", s.listRuns)
	}
}

// ServeHTTP exposes the router, mostly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info().Msg("shutting down http server")
	return s.echo.Shutdown(shutdownCtx)
}

// requestLogger logs every request with zerolog and places a request-scoped
// logger in the request context.
func requestLogger(base zerolog.Logger) echo.MiddlewareFunc {
	attach := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			logger := base.With().Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).Logger()
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))
			return next(c)
		}
	}
	log := middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := zerolog.Ctx(c.Request().Context()).Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = zerolog.Ctx(c.Request().Context()).Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return attach(log(next))
	}
}
