package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	apperrors "github.com/cagopat/grayscaleToRgb/internal/errors"
	"github.com/cagopat/grayscaleToRgb/internal/identity"
)

// Form field names. The honeypot field is disguised as a website input;
// humans leave it empty, naive bots fill it.
const (
	fieldFiles        = "files"
	fieldHoneypot     = "website"
	fieldFingerprint  = "fingerprint"
	fieldSessionToken = "session_token"

	sessionHeader = "X-Session-Token"
)

type uploadCheckRequest struct {
	NewFileCount int    `json:"new_file_count" form:"new_file_count"`
	SessionToken string `json:"session_token" form:"session_token"`
	Fingerprint  string `json:"fingerprint" form:"fingerprint"`
	Website      string `json:"website" form:"website"`
}

// handleUploadCheck is the pre-flight admission probe. Clients call it with
// the number of files they are about to send; quota for those files is
// consumed here so a large batch cannot slip past a nearly-exhausted window.
// The response carries the session token, minted here when the client has
// none yet.
func (s *Server) handleUploadCheck(c echo.Context) error {
	ctx := c.Request().Context()

	var req uploadCheckRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	key := identity.FromRequest(c.Request(), req.Fingerprint)
	if err := s.app.CheckUpload(ctx, key, req.NewFileCount, req.Website); err != nil {
		return err
	}

	token := req.SessionToken
	if token == "" {
		token = uuid.NewString()
	}

	response := map[string]any{
		"allowed":       true,
		"session_token": token,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleColorize accepts a multipart batch of grayscale images and returns
// the per-file outcomes.
func (s *Server) handleColorize(c echo.Context) error {
	ctx := c.Request().Context()

	form, err := c.MultipartForm()
	if err != nil {
		return apperrors.ValidationError("invalid multipart form")
	}

	fingerprint := c.FormValue(fieldFingerprint)
	key := identity.FromRequest(c.Request(), fingerprint)
	session := s.sessionToken(c)

	batch := domain.UploadBatch{
		Honeypot:    c.FormValue(fieldHoneypot),
		Fingerprint: fingerprint,
	}
	for _, header := range form.File[fieldFiles] {
		if header.Size > s.config.MaxUploadBytes {
			return apperrors.TooLargeError(
				fmt.Sprintf("file exceeds the %d byte limit", s.config.MaxUploadBytes),
			).WithField("filename", header.Filename)
		}
		data, err := readPart(header, s.config.MaxUploadBytes)
		if err != nil {
			return apperrors.ValidationError("failed to read uploaded file").WithField("filename", header.Filename)
		}
		batch.Files = append(batch.Files, domain.UploadedFile{
			Filename: header.Filename,
			Data:     data,
		})
	}

	result, err := s.app.Colorize(ctx, key, session, batch)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) sessionToken(c echo.Context) string {
	if token := c.Request().Header.Get(sessionHeader); token != "" {
		return token
	}
	return c.FormValue(fieldSessionToken)
}

// readPart reads one multipart file, capped just past the per-file limit so
// an undeclared oversize still trips validation without buffering the rest.
func readPart(header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open multipart file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read multipart file: %w", err)
	}
	return data, nil
}
