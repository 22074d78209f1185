// Package server is the HTTP adapter: echo routes, request parsing, and the
// translation of pipeline outcomes into status codes and headers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cagopat/grayscaleToRgb/internal/app"
	"github.com/cagopat/grayscaleToRgb/internal/config"
	"github.com/cagopat/grayscaleToRgb/internal/domain"
)

// colorizeService is the application surface the handlers call.
type colorizeService interface {
	CheckUpload(ctx context.Context, key string, newFiles int, honeypot string) error
	Colorize(ctx context.Context, key, session string, batch domain.UploadBatch) (*app.BatchResult, error)
}

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app     colorizeService
	results domain.ResultStore

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, app colorizeService, results domain.ResultStore, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		results:      results,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
