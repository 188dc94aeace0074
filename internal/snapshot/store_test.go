package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client, 0)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	durable, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewStore(newTestCache(t), durable, zerolog.Nop())
}

// failingBackend fails every operation; used to exercise partial dual-write
// outcomes.
type failingBackend struct {
	name string
	err  error
}

func (b *failingBackend) Name() string { return b.name }
func (b *failingBackend) Put(ctx context.Context, id string, data []byte) error {
	return b.err
}
func (b *failingBackend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	return nil, false, b.err
}
func (b *failingBackend) ListIDs(ctx context.Context) ([]string, error) { return nil, b.err }
func (b *failingBackend) DeleteAll(ctx context.Context) error           { return b.err }
func (b *failingBackend) Ping(ctx context.Context) error                { return b.err }

func TestStorePutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "snap-1", []byte(`{"k":"v"}`)))

	data, found, err := store.Get(ctx, "snap-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(`{"k":"v"}`), data)
}

func TestStoreGetMiss(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorePutDurableFailureIsPartial(t *testing.T) {
	cache := newTestCache(t)
	boom := errors.New("disk full")
	store := NewStore(cache, &failingBackend{name: "file", err: boom}, zerolog.Nop())
	ctx := context.Background()

	err := store.Put(ctx, "snap-1", []byte("payload"))
	require.Error(t, err)

	var dual *DualWriteError
	require.ErrorAs(t, err, &dual)
	assert.False(t, dual.CacheFailed())
	require.True(t, dual.DurableFailed())
	assert.Equal(t, "file", dual.Durable.Backend)
	assert.Equal(t, OpWrite, dual.Durable.Op)
	assert.ErrorIs(t, dual.Durable, boom)

	// The cache side still took the write.
	data, found, err := cache.Get(ctx, "snap-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), data)
}

func TestStorePutCacheFailureIsPartial(t *testing.T) {
	durable, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := NewStore(&failingBackend{name: "cache", err: errors.New("conn refused")}, durable, zerolog.Nop())
	ctx := context.Background()

	putErr := store.Put(ctx, "snap-1", []byte("payload"))
	var dual *DualWriteError
	require.ErrorAs(t, putErr, &dual)
	assert.True(t, dual.CacheFailed())
	assert.False(t, dual.DurableFailed())

	// The durable side still took the write.
	_, found, err := durable.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStoreGetFallsBackToDurableAndRepopulates(t *testing.T) {
	cache := newTestCache(t)
	durable, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := NewStore(cache, durable, zerolog.Nop())
	ctx := context.Background()

	// Simulate a record that only made it to the durable side.
	require.NoError(t, durable.Put(ctx, "snap-1", []byte("payload")))

	data, found, err := store.Get(ctx, "snap-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("payload"), data)

	// The read should have warmed the cache.
	_, found, err = cache.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStoreListIDsUnion(t *testing.T) {
	cache := newTestCache(t)
	durable, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := NewStore(cache, durable, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "cache-only", []byte("a")))
	require.NoError(t, durable.Put(ctx, "durable-only", []byte("b")))
	require.NoError(t, store.Put(ctx, "both", []byte("c")))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"both", "cache-only", "durable-only"}, ids)
}

func TestStoreListIDsSurvivesSingleSideFailure(t *testing.T) {
	durable, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := NewStore(&failingBackend{name: "cache", err: errors.New("down")}, durable, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, "snap-1", []byte("a")))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"snap-1"}, ids)
}

func TestStoreListIDsFailsWhenBothSidesFail(t *testing.T) {
	store := NewStore(
		&failingBackend{name: "cache", err: errors.New("down")},
		&failingBackend{name: "file", err: errors.New("also down")},
		zerolog.Nop(),
	)

	_, err := store.ListIDs(context.Background())
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, OpList, backendErr.Op)
}

func TestStoreDeleteAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "snap-1", []byte("a")))
	require.NoError(t, store.Put(ctx, "snap-2", []byte("b")))
	require.NoError(t, store.DeleteAll(ctx))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRegistrySaveAssignsID(t *testing.T) {
	reg := NewRegistry(newTestStore(t), zerolog.Nop())
	fixed := time.Date(2025, 3, 1, 12, 30, 45, 123456000, time.UTC)
	reg.now = func() time.Time { return fixed }

	snap := testSnapshot("")
	snap.Meta.ID = ""
	snap.Meta.Timestamp = time.Time{}

	id, err := reg.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T12-30-45.123456Z", id)
	assert.Equal(t, id, snap.Meta.ID)
	assert.Equal(t, fixed, snap.Meta.Timestamp)
}

func TestRegistrySaveKeepsExplicitID(t *testing.T) {
	reg := NewRegistry(newTestStore(t), zerolog.Nop())

	snap := testSnapshot("explicit-id")
	id, err := reg.Save(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", id)
}

func TestRegistryLoadNotFound(t *testing.T) {
	reg := NewRegistry(newTestStore(t), zerolog.Nop())

	_, err := reg.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryLoadRoundTrip(t *testing.T) {
	reg := NewRegistry(newTestStore(t), zerolog.Nop())
	ctx := context.Background()

	snap := testSnapshot("round-trip")
	_, err := reg.Save(ctx, snap)
	require.NoError(t, err)

	got, err := reg.Load(ctx, "round-trip")
	require.NoError(t, err)
	assert.Equal(t, snap.Mu, got.Mu)
	assert.Equal(t, snap.Sigma, got.Sigma)
}

func TestRegistryLatest(t *testing.T) {
	reg := NewRegistry(newTestStore(t), zerolog.Nop())
	ctx := context.Background()

	times := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range times {
		snap := testSnapshot("")
		snap.Meta.ID = ""
		snap.Meta.Timestamp = ts
		_, err := reg.Save(ctx, snap)
		require.NoError(t, err)
	}

	latest, err := reg.Latest(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, times[2], latest.Meta.Timestamp)

	cutoff := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	latest, err = reg.Latest(ctx, &cutoff)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, times[1], latest.Meta.Timestamp)

	// Cutoff is exclusive: a snapshot exactly at the cutoff is excluded.
	exact := times[0]
	latest, err = reg.Latest(ctx, &exact)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRegistryLatestEmptyStore(t *testing.T) {
	reg := NewRegistry(newTestStore(t), zerolog.Nop())

	latest, err := reg.Latest(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestReconcileWarmsCacheFromDurable(t *testing.T) {
	cache := newTestCache(t)
	durable, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := NewStore(cache, durable, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, "cold-1", []byte("a")))
	require.NoError(t, durable.Put(ctx, "cold-2", []byte("b")))
	require.NoError(t, cache.Put(ctx, "warm", []byte("c")))
	require.NoError(t, durable.Put(ctx, "warm", []byte("c")))

	job := NewReconcileJob(store, time.Minute, zerolog.Nop())
	warmed, failed, err := job.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, warmed)
	assert.Equal(t, 0, failed)

	for _, id := range []string{"cold-1", "cold-2"} {
		_, found, err := cache.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, found, id)
	}
}
