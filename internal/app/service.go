// Package app is the application layer: it orchestrates the admission gates
// (honeypot, rate limit, validation), the bounded dispatch into the
// colorizer, and the session result store. It is the only package that
// references more than one pipeline component.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	apperrors "github.com/cagopat/grayscaleToRgb/internal/errors"
	"github.com/cagopat/grayscaleToRgb/internal/logging"
	"github.com/cagopat/grayscaleToRgb/internal/metrics"
	"github.com/cagopat/grayscaleToRgb/internal/platform/retry"
	"github.com/cagopat/grayscaleToRgb/internal/ratelimit"
	"github.com/cagopat/grayscaleToRgb/internal/validate"
)

const capacityRetryHint = 5 * time.Second

// admissionLimiter is the slice of the rate limiter the service needs.
type admissionLimiter interface {
	Allow(ctx context.Context, key string, cost int) (ratelimit.Decision, error)
}

// submitter is the slice of the dispatcher the service needs.
type submitter interface {
	Submit(ctx context.Context, image []byte) ([]byte, error)
}

// Service wires the gates together. Gate order is fixed: honeypot before
// the rate limiter (bot traffic must not consume quota), rate limiter before
// validation, validation before any dispatch. A later gate is never
// evaluated once an earlier one rejects.
type Service struct {
	limiter    admissionLimiter
	dispatcher submitter
	results    domain.ResultStore
	clock      clockwork.Clock
	limits     validate.Limits
}

// NewService creates the application layer service.
func NewService(limiter admissionLimiter, dispatcher submitter, results domain.ResultStore, clock clockwork.Clock, limits validate.Limits) *Service {
	return &Service{
		limiter:    limiter,
		dispatcher: dispatcher,
		results:    results,
		clock:      clock,
		limits:     limits,
	}
}

// FileOutcome reports what happened to one file of an admitted batch.
type FileOutcome struct {
	Source   string `json:"source"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchResult is the response of a colorize call.
type BatchResult struct {
	Session   string        `json:"session_token"`
	Processed int           `json:"processed_count"`
	Outcomes  []FileOutcome `json:"results"`
}

// CheckUpload is the pre-flight admission probe: it consumes quota for the
// declared file count and reports whether the client may proceed. The
// honeypot gate runs first and rejects without touching the limiter.
func (s *Service) CheckUpload(ctx context.Context, key string, newFiles int, honeypot string) error {
	if honeypot != "" {
		metrics.RateLimitBlocked.WithLabelValues("upload_check").Inc()
		return apperrors.ValidationError("invalid submission")
	}

	if newFiles < 1 {
		newFiles = 1
	}

	decision, err := s.limiter.Allow(ctx, key, newFiles)
	if err != nil {
		return s.limiterUnavailable(err)
	}
	if !decision.Allowed {
		metrics.RateLimitBlocked.WithLabelValues("upload_check").Inc()
		return rateLimited(decision)
	}

	metrics.RateLimitAllowed.WithLabelValues("upload_check").Inc()
	return nil
}

// Colorize runs one upload batch through the full pipeline and returns the
// per-file outcomes. Admission is all-or-nothing: no file of a rejected
// batch is dispatched. Files of an admitted batch proceed independently; one
// file's inference failure never blocks its siblings.
func (s *Service) Colorize(ctx context.Context, key, session string, batch domain.UploadBatch) (*BatchResult, error) {
	if batch.Honeypot != "" {
		metrics.RateLimitBlocked.WithLabelValues("colorize_batch").Inc()
		return nil, apperrors.ValidationError("invalid submission")
	}

	if len(batch.Files) == 0 {
		return nil, apperrors.ValidationError("no images provided")
	}

	decision, err := s.limiter.Allow(ctx, key, len(batch.Files))
	if err != nil {
		return nil, s.limiterUnavailable(err)
	}
	if !decision.Allowed {
		metrics.RateLimitBlocked.WithLabelValues("colorize_batch").Inc()
		logging.WithRateKey(key).Info("Rate limit exceeded", "retry_after", decision.RetryAfter)
		return nil, rateLimited(decision)
	}
	metrics.RateLimitAllowed.WithLabelValues("colorize_batch").Inc()

	if violations := validate.CheckBatch(batch, s.limits); violations != nil {
		return nil, batchRejected(violations)
	}

	if session == "" {
		session = uuid.NewString()
	}

	outcomes := make([]FileOutcome, len(batch.Files))
	g := new(errgroup.Group)
	for i, file := range batch.Files {
		g.Go(func() error {
			outcomes[i] = s.processFile(ctx, session, file)
			return nil
		})
	}
	_ = g.Wait()

	processed := 0
	var capacityRejections int
	for _, o := range outcomes {
		if o.Error == "" {
			processed++
		} else if o.Error == capacityMessage {
			capacityRejections++
		}
	}

	if processed == 0 {
		if capacityRejections == len(outcomes) {
			return nil, apperrors.CapacityError("colorization capacity exhausted, retry later", capacityRetryHint)
		}
		return nil, apperrors.ExternalError("failed to process any images", nil)
	}

	return &BatchResult{Session: session, Processed: processed, Outcomes: outcomes}, nil
}

const capacityMessage = "capacity exhausted, retry later"

// processFile dispatches one admitted file and persists its artifact. The
// output name is allocated up front; failed jobs leave holes in the
// numbering, which is harmless.
func (s *Service) processFile(ctx context.Context, session string, file domain.UploadedFile) FileOutcome {
	outcome := FileOutcome{Source: file.Filename}
	log := logging.WithSession(session)

	seq, err := s.results.NextSequence(ctx, session)
	if err != nil {
		log.Error("Failed to allocate result sequence", "error", err)
		outcome.Error = "failed to store result"
		return outcome
	}
	name := fmt.Sprintf("colorized_%d.png", seq)

	colorized, err := s.dispatcher.Submit(ctx, file.Data)
	if err != nil {
		outcome.Error = dispatchErrorMessage(err)
		log.Warn("Colorization failed", "source", file.Filename, "error", err)
		return outcome
	}

	artifact := domain.Artifact{
		Session:  session,
		Filename: name,
		Data:     colorized,
		Created:  s.clock.Now(),
	}
	if err := s.results.Put(ctx, artifact); err != nil {
		// A lost artifact breaks the listing contract; surface it rather
		// than reporting a phantom success.
		log.Error("Failed to persist artifact", "filename", name, "error", err)
		outcome.Error = "failed to store result"
		return outcome
	}

	outcome.Filename = name
	outcome.URL = fmt.Sprintf("/api/result/%s/%s", session, name)
	return outcome
}

func dispatchErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrCapacity):
		return capacityMessage
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			return "colorization failed"
		}
		return "colorization unavailable, retry later"
	}
}

func (s *Service) limiterUnavailable(err error) error {
	// Documented failure direction: when the counter store is unreachable
	// the request is rejected, never admitted unchecked.
	slog.Error("Rate limiter unavailable, failing closed", "error", err)
	return apperrors.CapacityError("service temporarily unavailable", capacityRetryHint)
}

func rateLimited(decision ratelimit.Decision) error {
	return apperrors.RateLimitedError("rate limit exceeded, try again later", decision.RetryAfter)
}

func batchRejected(violations []validate.Violation) error {
	return apperrors.ValidationError("upload batch rejected").WithField("violations", violations)
}
