package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	apperrors "github.com/cagopat/grayscaleToRgb/internal/errors"
)

type resultEntry struct {
	Filename string    `json:"filename"`
	URL      string    `json:"url"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// handleListResults lists the artifacts of one session. Possession of the
// token is the only credential; an unknown token yields an empty list, not
// an error, so tokens cannot be probed apart from empty sessions.
func (s *Server) handleListResults(c echo.Context) error {
	ctx := c.Request().Context()
	session := c.Param("token")

	metas, err := s.results.List(ctx, session)
	if err != nil {
		return apperrors.InternalError("failed to list results", err)
	}

	entries := make([]resultEntry, 0, len(metas))
	for _, m := range metas {
		entries = append(entries, resultEntry{
			Filename: m.Filename,
			URL:      fmt.Sprintf("/api/result/%s/%s", session, m.Filename),
			Size:     m.Size,
			Created:  m.Created,
		})
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	if err := c.JSON(http.StatusOK, map[string]any{"results": entries}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleGetResult serves one artifact's bytes. Expired artifacts 404 even
// before the sweeper physically removes them.
func (s *Server) handleGetResult(c echo.Context) error {
	ctx := c.Request().Context()
	session := c.Param("token")
	filename := c.Param("filename")

	data, err := s.results.Get(ctx, session, filename)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return apperrors.NotFoundError("result not found").WithField("filename", filename)
	}
	if err != nil {
		return apperrors.InternalError("failed to read result", err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	if err := c.Blob(http.StatusOK, "image/png", data); err != nil {
		return fmt.Errorf("failed to send result bytes: %w", err)
	}
	return nil
}

// handleConfig exposes the client-facing limits so the frontend can reject
// obviously inadmissible batches before uploading them.
func (s *Server) handleConfig(c echo.Context) error {
	response := map[string]any{
		"backend_url":               s.config.BackendURL,
		"max_files_per_request":     s.config.MaxFilesPerRequest,
		"max_upload_bytes":          s.config.MaxUploadBytes,
		"accepted_types":            s.config.AcceptedTypes,
		"rate_limit_window_seconds": int(s.config.RateLimitWindow.Seconds()),
		"max_uploads_per_window":    s.config.MaxUploadsPerWindow,
		"max_files_per_day":         s.config.MaxFilesPerDay,
		"result_ttl_seconds":        int(s.config.ResultTTL.Seconds()),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
