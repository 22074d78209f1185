package colorizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagopat/grayscaleToRgb/internal/platform/retry"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func pngPayload() []byte {
	data := make([]byte, 64)
	copy(data, pngHeader)
	return data
}

func TestProcess_Success(t *testing.T) {
	var received atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "input.png", header.Filename)
		received.Store(true)

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngPayload())
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	out, err := client.Process(context.Background(), pngPayload())

	require.NoError(t, err)
	assert.True(t, received.Load())
	assert.Equal(t, pngPayload(), out)
}

func TestProcess_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Process(context.Background(), pngPayload())

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	assert.True(t, upstream.Transient())
}

func TestProcess_CorruptOutputRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Process(context.Background(), pngPayload())

	assert.ErrorIs(t, err, ErrBadOutput)
}

func TestProcess_EmptyBodyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Process(context.Background(), pngPayload())

	assert.ErrorIs(t, err, ErrBadOutput)
}

func TestProcess_TimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := client.Process(context.Background(), pngPayload())

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "call must not hang past its deadline")
	assert.Equal(t, retry.Retry, Classify(err), "a timeout is transient")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{"cancelled", context.Canceled, retry.Stop},
		{"deadline", context.DeadlineExceeded, retry.Retry},
		{"server error", &UpstreamError{StatusCode: 503}, retry.Retry},
		{"throttled upstream", &UpstreamError{StatusCode: 429}, retry.After},
		{"client error", &UpstreamError{StatusCode: 400}, retry.Stop},
		{"corrupt output", ErrBadOutput, retry.Stop},
		{"unknown", errors.New("weird"), retry.Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
