// Package server is the HTTP caller adapter: it exposes the producing
// operations to the spreadsheet runtime as JSON endpoints, translating
// raw typed cell grids into blocks and boundary failures into the
// marker-prefixed strings a calling cell expects.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/bricks"
	"github.com/fyrsmithlabs/brickd/internal/config"
)

// CallerHeader carries the caller's current location (e.g. the calling
// cell address), used as the natural identity of persistent unaliased
// handles.
const CallerHeader = "X-Brickd-Caller"

// Server is the HTTP server wrapping the operation service.
type Server struct {
	config  *config.Config
	service *bricks.Service
	logger  *zap.Logger
	echo    *echo.Echo
}

// NewServer wires routes and middleware. logger may be nil.
func NewServer(cfg *config.Config, service *bricks.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config:  cfg,
		service: service,
		logger:  logger,
		echo:    e,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/export", s.handleExport)
	s.echo.GET("/handles", s.handleHandles)

	ops := s.echo.Group("/v1")
	ops.POST("/brick", s.handleBrick)
	ops.POST("/bricks", s.handleBricks)
	ops.POST("/array", s.handleArray)
	ops.POST("/list", s.handleList)
	ops.POST("/table", s.handleTable)
	ops.POST("/grid", s.handleGrid)
	ops.POST("/lookup", s.handleLookup)
	ops.POST("/flatten", s.handleFlatten)
	ops.POST("/alias", s.handleAlias)
	ops.POST("/merge", s.handleMerge)
	ops.POST("/replace", s.handleReplace)
	ops.POST("/delete", s.handleDelete)
	ops.POST("/clear", s.handleClear)
	ops.POST("/today", s.handleToday)

	if s.config.Script.Enabled {
		ops.POST("/define-functions", s.handleDefineFunctions)
		ops.POST("/instantiate", s.handleInstantiate)
		ops.POST("/invoke", s.handleInvoke)
	}
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully within the configured timeout. Returns
// http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
