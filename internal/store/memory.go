// Package store provides the in-memory ResultStore used for single-instance
// development runs and tests. The Redis-backed implementation lives in
// internal/redis.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	"github.com/cagopat/grayscaleToRgb/internal/metrics"
)

// MemoryResultStore keeps artifacts in process memory, partitioned by
// session. All operations take one lock, so a read racing a sweep observes
// either the pre- or post-sweep state.
type MemoryResultStore struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu       sync.RWMutex
	sessions map[string]map[string]domain.Artifact
	seqs     map[string]int64
}

var _ domain.ResultStore = (*MemoryResultStore)(nil)

// NewMemoryResultStore creates an empty store with the given artifact TTL.
func NewMemoryResultStore(clock clockwork.Clock, ttl time.Duration) *MemoryResultStore {
	return &MemoryResultStore{
		clock:    clock,
		ttl:      ttl,
		sessions: make(map[string]map[string]domain.Artifact),
		seqs:     make(map[string]int64),
	}
}

// Put implements domain.ResultStore. Re-inserting a filename overwrites.
func (s *MemoryResultStore) Put(_ context.Context, artifact domain.Artifact) error {
	// Copy the bytes so a caller reusing its buffer cannot mutate a stored
	// artifact.
	data := make([]byte, len(artifact.Data))
	copy(data, artifact.Data)
	artifact.Data = data

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[artifact.Session]
	if !ok {
		session = make(map[string]domain.Artifact)
		s.sessions[artifact.Session] = session
	}
	session[artifact.Filename] = artifact
	metrics.ArtifactsStored.Inc()
	return nil
}

// List implements domain.ResultStore.
func (s *MemoryResultStore) List(_ context.Context, session string) ([]domain.ArtifactMeta, error) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var metas []domain.ArtifactMeta
	for _, a := range s.sessions[session] {
		if s.expired(a, now) {
			continue
		}
		metas = append(metas, domain.ArtifactMeta{
			Filename: a.Filename,
			Size:     int64(len(a.Data)),
			Created:  a.Created,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].Created.Equal(metas[j].Created) {
			return metas[i].Created.Before(metas[j].Created)
		}
		return metas[i].Filename < metas[j].Filename
	})
	return metas, nil
}

// Get implements domain.ResultStore.
func (s *MemoryResultStore) Get(_ context.Context, session, filename string) ([]byte, error) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.sessions[session][filename]
	if !ok || s.expired(a, now) {
		return nil, domain.ErrArtifactNotFound
	}
	return a.Data, nil
}

// NextSequence implements domain.ResultStore.
func (s *MemoryResultStore) NextSequence(_ context.Context, session string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[session]++
	return s.seqs[session], nil
}

// Sweep implements domain.ResultStore.
func (s *MemoryResultStore) Sweep(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for session, artifacts := range s.sessions {
		for filename, a := range artifacts {
			if s.expired(a, now) {
				delete(artifacts, filename)
				deleted++
			}
		}
		if len(artifacts) == 0 {
			delete(s.sessions, session)
			delete(s.seqs, session)
		}
	}

	if deleted > 0 {
		metrics.SweepDeleted.Add(float64(deleted))
	}
	return deleted, nil
}

func (s *MemoryResultStore) expired(a domain.Artifact, now time.Time) bool {
	return now.Sub(a.Created) > s.ttl
}
