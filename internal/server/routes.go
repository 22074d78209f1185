package server

import (
	"log/slog"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/cagopat/grayscaleToRgb/internal/errors"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(apperrors.Middleware())

	// Generous ceiling over the per-file cap; precise per-file limits are
	// enforced during validation.
	bodyLimit := s.config.MaxUploadBytes * int64(s.config.MaxFilesPerRequest)
	bodyLimit += bodyLimit / 4

	ipShield := newRateLimiter(s.config.IPRatePerSecond, s.config.IPBurst)
	uploadBodyLimit := middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10) + "B")

	s.echo.POST("/upload/check", s.handleUploadCheck, ipShield)
	s.echo.POST("/api/colorize", s.handleColorize, ipShield, uploadBodyLimit)
	s.echo.GET("/api/results/:token", s.handleListResults)
	s.echo.GET("/api/result/:token/:filename", s.handleGetResult)
	s.echo.GET("/config", s.handleConfig)

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("Request", attrs...)
			return nil
		},
	})
}
