package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
	"github.com/cagopat/grayscaleToRgb/internal/metrics"
)

const sweepScanBatch = 100

// ArtifactStore is the Redis-backed ResultStore. Layout per session:
//
//	artifact:{session}:{filename}  raw image bytes (string)
//	results:{session}              zset of filenames scored by created-ms
//	results_seq:{session}          output numbering counter
//
// Put writes the bytes before touching the index, so an artifact is never
// listed before its bytes are readable. List and Get filter on the score
// cutoff, so expired artifacts vanish from reads even before the sweep
// physically removes them. Keys also carry a Redis expiry at twice the TTL
// as a safety net should the sweeper stall.
type ArtifactStore struct {
	rdb   *goredis.Client
	clock clockwork.Clock
	ttl   time.Duration
}

var _ domain.ResultStore = (*ArtifactStore)(nil)

// NewArtifactStore creates a store with the given artifact TTL.
func NewArtifactStore(rdb *goredis.Client, clock clockwork.Clock, ttl time.Duration) *ArtifactStore {
	return &ArtifactStore{rdb: rdb, clock: clock, ttl: ttl}
}

// Put implements domain.ResultStore.
func (s *ArtifactStore) Put(ctx context.Context, artifact domain.Artifact) error {
	ak := artifactKey(artifact.Session, artifact.Filename)
	rk := resultsKey(artifact.Session)

	// Bytes first: the artifact must be fully readable before it becomes
	// visible through the index.
	if err := s.rdb.Set(ctx, ak, artifact.Data, 2*s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist artifact bytes: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, rk, goredis.Z{
		Score:  float64(artifact.Created.UnixMilli()),
		Member: artifact.Filename,
	})
	pipe.Expire(ctx, rk, 2*s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index artifact: %w", err)
	}

	metrics.ArtifactsStored.Inc()
	return nil
}

// List implements domain.ResultStore.
func (s *ArtifactStore) List(ctx context.Context, session string) ([]domain.ArtifactMeta, error) {
	rk := resultsKey(session)
	cutoff := s.cutoffMilli()

	entries, err := s.rdb.ZRangeByScoreWithScores(ctx, rk, &goredis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// Sizes come from STRLEN so listing never hauls image bytes around.
	pipe := s.rdb.Pipeline()
	sizeCmds := make([]*goredis.IntCmd, len(entries))
	for i, entry := range entries {
		filename, _ := entry.Member.(string)
		sizeCmds[i] = pipe.StrLen(ctx, artifactKey(session, filename))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read artifact sizes: %w", err)
	}

	metas := make([]domain.ArtifactMeta, 0, len(entries))
	for i, entry := range entries {
		filename, _ := entry.Member.(string)
		size := sizeCmds[i].Val()
		if size == 0 {
			// Index entry survived its bytes (swept mid-read); skip it.
			continue
		}
		metas = append(metas, domain.ArtifactMeta{
			Filename: filename,
			Size:     size,
			Created:  time.UnixMilli(int64(entry.Score)),
		})
	}
	return metas, nil
}

// Get implements domain.ResultStore.
func (s *ArtifactStore) Get(ctx context.Context, session, filename string) ([]byte, error) {
	rk := resultsKey(session)

	score, err := s.rdb.ZScore(ctx, rk, filename).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up artifact: %w", err)
	}
	if int64(score) < s.cutoffMilli() {
		return nil, domain.ErrArtifactNotFound
	}

	data, err := s.rdb.Get(ctx, artifactKey(session, filename)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact bytes: %w", err)
	}
	return data, nil
}

// NextSequence implements domain.ResultStore.
func (s *ArtifactStore) NextSequence(ctx context.Context, session string) (int64, error) {
	sk := seqKey(session)
	n, err := s.rdb.Incr(ctx, sk).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence: %w", err)
	}
	if n == 1 {
		s.rdb.Expire(ctx, sk, 2*s.ttl)
	}
	return n, nil
}

// Sweep implements domain.ResultStore. Removal is per artifact: the index
// entry goes first, then the bytes, so a concurrent reader either still
// resolves the full artifact or cleanly misses it.
func (s *ArtifactStore) Sweep(ctx context.Context) (int, error) {
	cutoff := strconv.FormatInt(s.cutoffMilli(), 10)
	deleted := 0
	var cursor uint64

	for {
		select {
		case <-ctx.Done():
			return deleted, fmt.Errorf("sweep cancelled after %d deletions: %w", deleted, ctx.Err())
		default:
		}

		keys, nextCursor, err := s.rdb.Scan(ctx, cursor, "results:*", sweepScanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("sweep scan failed: %w", err)
		}

		for _, rk := range keys {
			n, err := s.sweepSession(ctx, rk, cutoff)
			if err != nil {
				slog.Error("Sweep: session pass failed", "key", rk, "error", err)
				continue
			}
			deleted += n
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	if deleted > 0 {
		metrics.SweepDeleted.Add(float64(deleted))
	}
	return deleted, nil
}

func (s *ArtifactStore) sweepSession(ctx context.Context, rk, cutoff string) (int, error) {
	session := rk[len("results:"):]

	expired, err := s.rdb.ZRangeByScore(ctx, rk, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + cutoff,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for _, filename := range expired {
		pipe.ZRem(ctx, rk, filename)
		pipe.Del(ctx, artifactKey(session, filename))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *ArtifactStore) cutoffMilli() int64 {
	return s.clock.Now().Add(-s.ttl).UnixMilli()
}

// --- Key helpers ---

func artifactKey(session, filename string) string {
	return "artifact:" + session + ":" + filename
}

func resultsKey(session string) string {
	return "results:" + session
}

func seqKey(session string) string {
	return "results_seq:" + session
}
