// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the scoping engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/cache"
	"github.com/pdiddy/medscope/internal/scope"
	"github.com/pdiddy/medscope/pkg/types"
)

// Defaults applied when ServerConfig leaves a field unset.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBatch        = 100
	DefaultBodyLimit       = "4M"
)

// Server is the HTTP front end of an Engine.
type Server struct {
	e        *echo.Echo
	engine   *scope.Engine
	cache    *cache.Cache
	cfg      types.ServerConfig
	log      *zap.Logger
	version  string
	refPrint string
}

// Option configures a Server.
type Option func(*Server)

// WithCache serves single-record requests through a result cache.
func WithCache(c *cache.Cache) Option { return func(s *Server) { s.cache = c } }

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

// New builds the server and registers its routes.
func New(engine *scope.Engine, cfg types.ServerConfig, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = DefaultBodyLimit
	}

	s := &Server{engine: engine, cfg: cfg, log: zap.NewNop(), version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("server")

	if fp, err := scope.Fingerprint(engine.Reference().Document()); err == nil {
		s.refPrint = fp
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(RequestID())
	e.Use(Logger(s.log))
	e.Use(Recovery(s.log))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", s.health)
	v1 := e.Group("/v1")
	v1.POST("/scope", s.analyze)
	v1.POST("/scope/batch", s.analyzeBatch)
	v1.GET("/reference", s.reference)

	s.e = e
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves on the configured address until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", s.cfg.Addr))
		if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serving on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.e.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	s.log.Info("server stopped")
	return nil
}

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := errorBody{Error: "internal server error", RequestID: requestID(c)}

	var (
		he         *echo.HTTPError
		incomplete *types.IncompleteProfileError
	)
	switch {
	case errors.As(err, &incomplete):
		status = http.StatusUnprocessableEntity
		body.Error = incomplete.Error()
		body.Field = incomplete.Field
	case errors.As(err, &he):
		status = he.Code
		body.Error = fmt.Sprint(he.Message)
	default:
		s.log.Error("unhandled error", zap.String("request_id", body.RequestID), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.log.Error("writing error response", zap.Error(err))
	}
}
