package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagopat/grayscaleToRgb/internal/domain"
)

const artifactTTL = 2 * time.Hour

func setupArtifactStore(t *testing.T) (*ArtifactStore, *clockwork.FakeClock) {
	t.Helper()
	client := setupTestClient(t)
	clock := clockwork.NewFakeClock()
	return NewArtifactStore(client, clock, artifactTTL), clock
}

func testArtifact(clock clockwork.Clock, session, filename, payload string) domain.Artifact {
	return domain.Artifact{
		Session:  session,
		Filename: filename,
		Data:     []byte(payload),
		Created:  clock.Now(),
	}
}

func TestArtifactStore_PutListGet(t *testing.T) {
	store, clock := setupArtifactStore(t)
	ctx := context.Background()

	metas, err := store.List(ctx, "sess")
	require.NoError(t, err)
	assert.Empty(t, metas)

	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "colorized_1.png", "png-bytes")))

	metas, err = store.List(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "colorized_1.png", metas[0].Filename)
	assert.EqualValues(t, 9, metas[0].Size)

	data, err := store.Get(ctx, "sess", "colorized_1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestArtifactStore_OverwriteSameFilename(t *testing.T) {
	store, clock := setupArtifactStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "colorized_1.png", "v1")))
	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "colorized_1.png", "longer-v2")))

	metas, err := store.List(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.EqualValues(t, 9, metas[0].Size)
}

func TestArtifactStore_ListOrderedByCreation(t *testing.T) {
	store, clock := setupArtifactStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "colorized_1.png", "a")))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "colorized_2.png", "b")))
	clock.Advance(time.Second)
	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "colorized_3.png", "c")))

	metas, err := store.List(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "colorized_1.png", metas[0].Filename)
	assert.Equal(t, "colorized_3.png", metas[2].Filename)
}

func TestArtifactStore_SessionIsolation(t *testing.T) {
	store, clock := setupArtifactStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testArtifact(clock, "session-a", "colorized_1.png", "a")))
	require.NoError(t, store.Put(ctx, testArtifact(clock, "session-b", "colorized_1.png", "b")))

	metas, err := store.List(ctx, "session-a")
	require.NoError(t, err)
	require.Len(t, metas, 1)

	data, err := store.Get(ctx, "session-b", "colorized_1.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestArtifactStore_ExpiryAndSweep(t *testing.T) {
	store, clock := setupArtifactStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "old.png", "old")))
	clock.Advance(artifactTTL + time.Minute)
	require.NoError(t, store.Put(ctx, testArtifact(clock, "sess", "new.png", "new")))

	// Expired artifacts are invisible to reads before the sweep runs.
	metas, err := store.List(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "new.png", metas[0].Filename)

	_, err = store.Get(ctx, "sess", "old.png")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

	deleted, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// Physically gone now, and the survivor is untouched.
	exists, err := store.rdb.Exists(ctx, artifactKey("sess", "old.png")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	data, err := store.Get(ctx, "sess", "new.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)

	// Idempotent.
	deleted, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestArtifactStore_NextSequence(t *testing.T) {
	store, _ := setupArtifactStore(t)
	ctx := context.Background()

	n1, err := store.NextSequence(ctx, "sess")
	require.NoError(t, err)
	n2, err := store.NextSequence(ctx, "sess")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n1)
	assert.EqualValues(t, 2, n2)

	other, err := store.NextSequence(ctx, "other")
	require.NoError(t, err)
	assert.EqualValues(t, 1, other)
}

func TestArtifactStore_GetUnknown(t *testing.T) {
	store, _ := setupArtifactStore(t)

	_, err := store.Get(context.Background(), "sess", "nope.png")
	assert.ErrorIs(t, err, domain.ErrArtifactNotFound)
}
