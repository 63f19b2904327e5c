package component

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/stores"
)

// emptyModule returns a valid Wasm binary with no functions. The custom
// section makes binaries of different names distinct.
func emptyModule(name string) []byte {
	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	module = append(module, 0x00, byte(2+len(name)), byte(len(name)))
	module = append(module, name...)
	// A custom section needs at least one byte of content after its name.
	return append(module, 0x00)
}

type countingLoader struct {
	Loader
	loads atomic.Int32
}

func (l *countingLoader) Load(ctx context.Context, key Key) ([]byte, error) {
	l.loads.Add(1)
	return l.Loader.Load(ctx, key)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupCache(t *testing.T, cfg Config, keys ...Key) (*Cache, *countingLoader, *fakeClock) {
	t.Helper()
	ctx := context.Background()

	blobs := NewBlobLoader(stores.NewMemoryBlobStore())
	for _, key := range keys {
		require.NoError(t, blobs.Store(ctx, key, emptyModule(key.String())))
	}
	loader := &countingLoader{Loader: blobs}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	cache := NewCache(ctx, loader, cfg, WithClock(clock.Now))
	t.Cleanup(func() { _ = cache.Close(context.Background()) })
	return cache, loader, clock
}

func newKey(version uint64) Key {
	return Key{ComponentID: uuid.New(), Version: oplog.ComponentVersion(version)}
}

func TestEmptyModulesCompile(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	for _, name := range []string{"a", "component-v2"} {
		module, err := runtime.CompileModule(ctx, emptyModule(name))
		require.NoError(t, err, "module %q", name)
		require.NoError(t, module.Close(ctx))
	}
}

func TestGetCompilesOnce(t *testing.T) {
	ctx := context.Background()
	key := newKey(1)
	cache, loader, _ := setupCache(t, DefaultConfig(), key)

	first, err := cache.Get(ctx, key)
	require.NoError(t, err)
	second, err := cache.Get(ctx, key)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), loader.loads.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestConcurrentMissesCompileOnce(t *testing.T) {
	ctx := context.Background()
	key := newKey(1)
	cache, loader, _ := setupCache(t, DefaultConfig(), key)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(ctx, key)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.loads.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestLeastRecentlyUsedIsEvicted(t *testing.T) {
	ctx := context.Background()
	a, b, c := newKey(1), newKey(1), newKey(1)
	cfg := DefaultConfig()
	cfg.Capacity = 2
	cache, loader, _ := setupCache(t, cfg, a, b, c)

	for _, key := range []Key{a, b, a, c} {
		_, err := cache.Get(ctx, key)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, int32(3), loader.loads.Load())

	// a was used after b, so b was evicted.
	_, err := cache.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int32(3), loader.loads.Load())

	_, err = cache.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int32(4), loader.loads.Load())
}

func TestSweepEvictsIdleComponents(t *testing.T) {
	ctx := context.Background()
	idle, busy := newKey(1), newKey(2)
	cfg := DefaultConfig()
	cfg.TimeToIdle = time.Hour
	cache, _, clock := setupCache(t, cfg, idle, busy)

	_, err := cache.Get(ctx, idle)
	require.NoError(t, err)
	_, err = cache.Get(ctx, busy)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	_, err = cache.Get(ctx, busy)
	require.NoError(t, err)
	assert.Zero(t, cache.Sweep(ctx))

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, cache.Sweep(ctx))
	assert.Equal(t, 1, cache.Len())
}

func TestSweepDisabledWithoutTimeToIdle(t *testing.T) {
	ctx := context.Background()
	key := newKey(1)
	cfg := DefaultConfig()
	cfg.TimeToIdle = 0
	cache, _, clock := setupCache(t, cfg, key)

	_, err := cache.Get(ctx, key)
	require.NoError(t, err)
	clock.Advance(1000 * time.Hour)

	assert.Zero(t, cache.Sweep(ctx))
	assert.Equal(t, 1, cache.Len())
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	key := newKey(1)
	cache, loader, _ := setupCache(t, DefaultConfig(), key)

	_, err := cache.Get(ctx, key)
	require.NoError(t, err)
	cache.Invalidate(ctx, key)
	cache.Invalidate(ctx, key)
	assert.Zero(t, cache.Len())

	_, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestMissingComponent(t *testing.T) {
	cache, _, _ := setupCache(t, DefaultConfig())

	_, err := cache.Get(context.Background(), newKey(7))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, cache.Len())
}

func TestInvalidBinaryIsNotCached(t *testing.T) {
	ctx := context.Background()
	blobs := NewBlobLoader(stores.NewMemoryBlobStore())
	key := newKey(1)
	require.NoError(t, blobs.Store(ctx, key, []byte("not wasm")))

	cache := NewCache(ctx, blobs, DefaultConfig())
	defer cache.Close(ctx)

	_, err := cache.Get(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), key.String())
	assert.Zero(t, cache.Len())
}

func TestInstantiate(t *testing.T) {
	ctx := context.Background()
	key := newKey(1)
	cache, _, _ := setupCache(t, DefaultConfig(), key)

	first, err := cache.Instantiate(ctx, key)
	require.NoError(t, err)
	defer first.Close(ctx)

	second, err := cache.Instantiate(ctx, key)
	require.NoError(t, err)
	defer second.Close(ctx)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Millisecond
	cache, _, _ := setupCache(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
