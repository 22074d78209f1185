package domain

import (
	"context"
	"errors"
	"time"
)

// UploadedFile is one file of an upload batch, fully read into memory.
// Size caps are enforced before a batch reaches the dispatcher.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// UploadBatch is everything one request submitted: the files, the client's
// honeypot field (expected empty), and the declared fingerprint.
type UploadBatch struct {
	Files       []UploadedFile
	Honeypot    string
	Fingerprint string
}

// Artifact is a colorized output image owned by a session until its TTL
// expires.
type Artifact struct {
	Session  string
	Filename string
	Data     []byte
	Created  time.Time
}

// ArtifactMeta is the listing view of an artifact; no bytes attached.
type ArtifactMeta struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// ResultStore persists artifacts per session and expires them after a TTL.
//
// Visibility invariant: an artifact appears in List/Get only after Put has
// fully persisted its bytes, and disappears once expired or swept. A read
// racing Sweep observes either the pre- or post-sweep state, never a
// half-deleted artifact.
type ResultStore interface {
	// Put inserts an artifact into the session's result set. Re-inserting
	// the same filename overwrites rather than duplicates.
	Put(ctx context.Context, artifact Artifact) error

	// List returns the session's live artifacts ordered by creation time.
	List(ctx context.Context, session string) ([]ArtifactMeta, error)

	// Get returns the artifact bytes, or ErrArtifactNotFound if the
	// artifact does not exist or has expired.
	Get(ctx context.Context, session, filename string) ([]byte, error)

	// NextSequence returns a monotonically increasing per-session number
	// used to name output files (colorized_<n>.png).
	NextSequence(ctx context.Context, session string) (int64, error)

	// Sweep deletes every artifact older than the store's TTL, across all
	// sessions. Idempotent and safe to run concurrently with reads and
	// writes. Returns the number of artifacts removed.
	Sweep(ctx context.Context) (int, error)
}

// Sentinel errors shared across the pipeline.
var (
	// ErrArtifactNotFound is returned by ResultStore.Get for unknown or
	// expired artifacts.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrCapacity signals that the dispatcher pool and its queue are full.
	// Transient: the caller should back off and retry.
	ErrCapacity = errors.New("colorization capacity exhausted")

	// ErrHoneypot signals a populated honeypot field. Rejected before any
	// quota is consumed.
	ErrHoneypot = errors.New("honeypot field populated")

	// ErrLimiterUnavailable signals that the shared counter store is
	// unreachable. The limiter fails closed in that case.
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)
