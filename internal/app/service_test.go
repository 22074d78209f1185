package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	apperrors "github.com/cagopat/grayscaleToRgb/internal/errors"
	"github.com/cagopat/grayscaleToRgb/internal/ratelimit"
	"github.com/cagopat/grayscaleToRgb/internal/store"
	"github.com/cagopat/grayscaleToRgb/internal/validate"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\npayload")

type stubLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	err      error
	calls    int
	lastCost int
}

func (s *stubLimiter) Allow(_ context.Context, _ string, cost int) (ratelimit.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastCost = cost
	return s.decision, s.err
}

type stubDispatcher struct {
	calls atomic.Int32
	fn    func(image []byte) ([]byte, error)
}

func (s *stubDispatcher) Submit(_ context.Context, image []byte) ([]byte, error) {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(image)
	}
	return append([]byte("colorized:"), image...), nil
}

func testLimits() validate.Limits {
	return validate.Limits{
		MaxFilesPerRequest: 5,
		MaxBytesPerFile:    1 << 20,
		AcceptedTypes:      []string{"image/png", "image/jpeg", "image/webp"},
	}
}

func newTestService(limiter *stubLimiter, dispatcher *stubDispatcher) (*Service, *store.MemoryResultStore, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	results := store.NewMemoryResultStore(clock, 2*time.Hour)
	return NewService(limiter, dispatcher, results, clock, testLimits()), results, clock
}

func pngBatch(n int) domain.UploadBatch {
	batch := domain.UploadBatch{}
	for i := 0; i < n; i++ {
		batch.Files = append(batch.Files, domain.UploadedFile{
			Filename: fmt.Sprintf("photo_%d.png", i),
			Data:     pngBytes,
		})
	}
	return batch
}

func TestCheckUpload_Allowed(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true, Remaining: 2}}
	svc, _, _ := newTestService(limiter, &stubDispatcher{})

	err := svc.CheckUpload(context.Background(), "key", 3, "")
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.calls)
	assert.Equal(t, 3, limiter.lastCost)
}

func TestCheckUpload_HoneypotSkipsLimiter(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	svc, _, _ := newTestService(limiter, &stubDispatcher{})

	err := svc.CheckUpload(context.Background(), "key", 1, "bot-filled-this")
	require.Error(t, err)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
	assert.Zero(t, limiter.calls, "honeypot trips must not consume quota")
}

func TestCheckUpload_RateLimited(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 42 * time.Second}}
	svc, _, _ := newTestService(limiter, &stubDispatcher{})

	err := svc.CheckUpload(context.Background(), "key", 1, "")

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeRateLimited, structured.Type)
	assert.Equal(t, 42*time.Second, structured.RetryAfter)
}

func TestCheckUpload_LimiterOutageFailsClosed(t *testing.T) {
	limiter := &stubLimiter{err: fmt.Errorf("%w: boom", domain.ErrLimiterUnavailable)}
	svc, _, _ := newTestService(limiter, &stubDispatcher{})

	err := svc.CheckUpload(context.Background(), "key", 1, "")

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeCapacity, structured.Type)
}

func TestColorize_FullPipeline(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	dispatcher := &stubDispatcher{}
	svc, results, _ := newTestService(limiter, dispatcher)

	res, err := svc.Colorize(context.Background(), "key", "", pngBatch(3))
	require.NoError(t, err)

	assert.NotEmpty(t, res.Session, "a session token is minted when none is supplied")
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, limiter.lastCost, "quota cost equals the batch size")
	require.Len(t, res.Outcomes, 3)

	for _, o := range res.Outcomes {
		assert.Empty(t, o.Error)
		assert.True(t, strings.HasPrefix(o.Filename, "colorized_"))
		assert.Contains(t, o.URL, res.Session)
	}

	metas, err := results.List(context.Background(), res.Session)
	require.NoError(t, err)
	assert.Len(t, metas, 3)
}

func TestColorize_KeepsSuppliedSession(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	svc, _, _ := newTestService(limiter, &stubDispatcher{})

	res, err := svc.Colorize(context.Background(), "key", "existing-session", pngBatch(1))
	require.NoError(t, err)
	assert.Equal(t, "existing-session", res.Session)
}

func TestColorize_HoneypotBeforeLimiter(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	dispatcher := &stubDispatcher{}
	svc, _, _ := newTestService(limiter, dispatcher)

	batch := pngBatch(1)
	batch.Honeypot = "gotcha"

	_, err := svc.Colorize(context.Background(), "key", "", batch)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
	assert.Zero(t, limiter.calls)
	assert.Zero(t, dispatcher.calls.Load())
}

func TestColorize_RateLimitBeforeValidation(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: time.Minute}}
	dispatcher := &stubDispatcher{}
	svc, _, _ := newTestService(limiter, dispatcher)

	// The batch is also invalid (too many files), but the limiter rejects
	// first and that is the error the caller sees.
	_, err := svc.Colorize(context.Background(), "key", "", pngBatch(9))

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeRateLimited, structured.Type)
	assert.Zero(t, dispatcher.calls.Load())
}

func TestColorize_InvalidBatchNotDispatched(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	dispatcher := &stubDispatcher{}
	svc, _, _ := newTestService(limiter, dispatcher)

	batch := pngBatch(2)
	batch.Files[1].Data = []byte("just text, not an image")

	_, err := svc.Colorize(context.Background(), "key", "", batch)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
	assert.Zero(t, dispatcher.calls.Load(), "no file of a rejected batch is dispatched")
}

func TestColorize_PerFileFailureIndependence(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	var n atomic.Int32
	dispatcher := &stubDispatcher{fn: func(image []byte) ([]byte, error) {
		if n.Add(1) == 1 {
			return nil, errors.New("upstream exploded")
		}
		return []byte("ok"), nil
	}}
	svc, results, _ := newTestService(limiter, dispatcher)

	res, err := svc.Colorize(context.Background(), "key", "", pngBatch(3))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)

	failed := 0
	for _, o := range res.Outcomes {
		if o.Error != "" {
			failed++
			assert.Empty(t, o.Filename)
		}
	}
	assert.Equal(t, 1, failed)

	metas, err := results.List(context.Background(), res.Session)
	require.NoError(t, err)
	assert.Len(t, metas, 2, "only successful files are stored")
}

func TestColorize_AllCapacityRejected(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	dispatcher := &stubDispatcher{fn: func([]byte) ([]byte, error) {
		return nil, domain.ErrCapacity
	}}
	svc, _, _ := newTestService(limiter, dispatcher)

	_, err := svc.Colorize(context.Background(), "key", "", pngBatch(2))

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeCapacity, structured.Type)
}

func TestColorize_AllFailed(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	dispatcher := &stubDispatcher{fn: func([]byte) ([]byte, error) {
		return nil, errors.New("down hard")
	}}
	svc, _, _ := newTestService(limiter, dispatcher)

	_, err := svc.Colorize(context.Background(), "key", "", pngBatch(2))

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeExternal, structured.Type)
}

func TestColorize_EmptyBatch(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	svc, _, _ := newTestService(limiter, &stubDispatcher{})

	_, err := svc.Colorize(context.Background(), "key", "", domain.UploadBatch{})

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeValidation, structured.Type)
	assert.Zero(t, limiter.calls)
}
