// Package colorizer is the HTTP adapter for the remote colorization service.
// The service accepts a multipart image upload and responds with the
// colorized image as binary PNG.
package colorizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/cagopat/grayscaleToRgb/internal/metrics"
	"github.com/cagopat/grayscaleToRgb/internal/platform/retry"
)

// maxResponseBytes caps how much of an upstream response is read. Colorized
// outputs are single images; anything larger is treated as corrupt.
const maxResponseBytes = 32 << 20

// ErrBadOutput marks a response that was not a decodable image. Permanent:
// retrying the same input is pointless and the output must not be persisted.
var ErrBadOutput = errors.New("colorizer returned corrupt output")

// UpstreamError is a non-2xx response from the colorization service.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("colorizer responded with status %d", e.StatusCode)
}

// Transient reports whether the status class is worth retrying.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client calls the remote colorization endpoint. Every call is bounded by
// the configured timeout; exceeding it surfaces as a transient failure, not
// a hang.
type Client struct {
	apiURL     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client for the given endpoint URL.
func NewClient(apiURL string, timeout time.Duration) *Client {
	return &Client{
		apiURL:  apiURL,
		timeout: timeout,
		// The per-request context carries the deadline; the http.Client
		// itself stays unbounded so the context is the single source of
		// cancellation.
		httpClient: &http.Client{},
	}
}

// Process submits raw image bytes and returns the colorized PNG bytes.
func (c *Client) Process(ctx context.Context, image []byte) ([]byte, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "input.png")
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "image/png")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("colorizer request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read colorizer response: %w", err)
	}

	if !looksLikeImage(out) {
		return nil, ErrBadOutput
	}

	metrics.ColorizeSeconds.Observe(time.Since(start).Seconds())
	return out, nil
}

// Ping checks that the inference endpoint is reachable. Any HTTP response
// counts as healthy; inference APIs commonly answer probes with 405.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("colorizer unreachable: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

// looksLikeImage sniffs the response bytes; a truncated or non-image body
// must never reach the result store.
func looksLikeImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	switch http.DetectContentType(sniff) {
	case "image/png", "image/jpeg", "image/webp":
		return true
	}
	return false
}

// Classify maps adapter errors onto retry actions: timeouts, connection
// failures and 5xx responses are transient; upstream throttling uses the
// longer backoff; everything else (including corrupt output) is permanent.
func Classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) {
		return retry.Stop
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Retry
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retry
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if upstream.StatusCode == http.StatusTooManyRequests {
			return retry.After
		}
		if upstream.Transient() {
			return retry.Retry
		}
		return retry.Stop
	}

	if errors.Is(err, ErrBadOutput) {
		return retry.Stop
	}

	// Connection-level failures (refused, reset) arrive as url.Error
	// wrapping syscall errors; treat anything unrecognized from the
	// transport as transient and let the attempt bound cap it.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return retry.Retry
	}

	return retry.Stop
}
