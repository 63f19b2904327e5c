package component

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

// Key identifies one version of a component.
type Key struct {
	ComponentID uuid.UUID
	Version     oplog.ComponentVersion
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.ComponentID, k.Version)
}

// Config configures the compiled component cache.
type Config struct {
	// Capacity is the number of compiled components kept in memory.
	Capacity int `yaml:"capacity" env:"CAPACITY" validate:"gt=0"`

	// TimeToIdle evicts components that were not used for this long. Zero
	// disables idle eviction.
	TimeToIdle time.Duration `yaml:"time_to_idle" env:"TIME_TO_IDLE" validate:"gte=0"`

	// SweepInterval is how often Run looks for idle components.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" validate:"gte=0"`

	// MemoryLimitPages caps the linear memory of instances, in 64KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" env:"MEMORY_LIMIT_PAGES" validate:"lte=65536"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:         32,
		TimeToIdle:       12 * time.Hour,
		SweepInterval:    time.Minute,
		MemoryLimitPages: 16384, // 1GiB
	}
}

type cached struct {
	key      Key
	module   wazero.CompiledModule
	lastUsed time.Time
}

// Cache keeps compiled components in a bounded LRU. Concurrent misses for
// the same key compile once.
type Cache struct {
	runtime wazero.Runtime
	loader  Loader
	config  Config

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	lru   *list.List
	items map[Key]*list.Element
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger of the cache.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics reports hits, misses and evictions to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock replaces the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a cache that compiles components fetched by loader.
func NewCache(ctx context.Context, loader Loader, cfg Config, opts ...Option) *Cache {
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	// Components are built against WASI preview 1.
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	c := &Cache{
		runtime: runtime,
		loader:  loader,
		config:  cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
		lru:     list.New(),
		items:   make(map[Key]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "component_cache").Logger()
	return c
}

// Runtime returns the wazero runtime the components are compiled for.
func (c *Cache) Runtime() wazero.Runtime {
	return c.runtime
}

// Get returns the compiled component for key, compiling it on a miss.
func (c *Cache) Get(ctx context.Context, key Key) (wazero.CompiledModule, error) {
	if module, ok := c.lookup(key); ok {
		c.metrics.RecordCacheHit()
		return module, nil
	}
	c.metrics.RecordCacheMiss()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Another caller may have finished compiling while we waited.
		if module, ok := c.lookup(key); ok {
			return module, nil
		}
		return c.compile(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(wazero.CompiledModule), nil
}

// Instantiate creates a fresh anonymous instance of the component.
func (c *Cache) Instantiate(ctx context.Context, key Key) (api.Module, error) {
	module, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	instance, err := c.runtime.InstantiateModule(ctx, module, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate component %s: %w", key, err)
	}
	return instance, nil
}

func (c *Cache) lookup(key Key) (wazero.CompiledModule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cached)
	entry.lastUsed = c.now()
	c.lru.MoveToFront(elem)
	return entry.module, true
}

func (c *Cache) compile(ctx context.Context, key Key) (wazero.CompiledModule, error) {
	data, err := c.loader.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	start := c.now()
	module, err := c.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile component %s: %w", key, err)
	}
	c.logger.Debug().
		Stringer("key", key).
		Int("size", len(data)).
		Dur("took", c.now().Sub(start)).
		Msg("Compiled component")

	var evicted []*cached
	c.mu.Lock()
	c.items[key] = c.lru.PushFront(&cached{key: key, module: module, lastUsed: c.now()})
	for c.lru.Len() > c.config.Capacity {
		evicted = append(evicted, c.removeLocked(c.lru.Back()))
	}
	size := c.lru.Len()
	c.mu.Unlock()

	c.metrics.SetCacheSize(size)
	c.close(ctx, evicted, "capacity")
	return module, nil
}

func (c *Cache) removeLocked(elem *list.Element) *cached {
	entry := c.lru.Remove(elem).(*cached)
	delete(c.items, entry.key)
	return entry
}

func (c *Cache) close(ctx context.Context, entries []*cached, reason string) {
	for _, entry := range entries {
		c.metrics.RecordCacheEviction(reason)
		if err := entry.module.Close(ctx); err != nil {
			c.logger.Warn().Err(err).Stringer("key", entry.key).Msg("Failed to close compiled component")
		}
		c.logger.Debug().Stringer("key", entry.key).Str("reason", reason).Msg("Evicted component")
	}
}

// Invalidate drops key from the cache.
func (c *Cache) Invalidate(ctx context.Context, key Key) {
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	entry := c.removeLocked(elem)
	size := c.lru.Len()
	c.mu.Unlock()

	c.metrics.SetCacheSize(size)
	c.close(ctx, []*cached{entry}, "invalidated")
}

// Len returns the number of cached components.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep evicts every component idle for longer than TimeToIdle and returns
// how many were evicted.
func (c *Cache) Sweep(ctx context.Context) int {
	if c.config.TimeToIdle <= 0 {
		return 0
	}
	deadline := c.now().Add(-c.config.TimeToIdle)

	var evicted []*cached
	c.mu.Lock()
	// Least recently used entries are at the back.
	for elem := c.lru.Back(); elem != nil; {
		entry := elem.Value.(*cached)
		if !entry.lastUsed.Before(deadline) {
			break
		}
		prev := elem.Prev()
		evicted = append(evicted, c.removeLocked(elem))
		elem = prev
	}
	size := c.lru.Len()
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.metrics.SetCacheSize(size)
		c.close(ctx, evicted, "idle")
	}
	return len(evicted)
}

// Run sweeps idle components every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	if c.config.TimeToIdle <= 0 || c.config.SweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(ctx); n > 0 {
				c.logger.Info().Int("evicted", n).Int("remaining", c.Len()).Msg("Evicted idle components")
			}
		}
	}
}

// Close releases every compiled component and the runtime.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.lru.Init()
	c.items = make(map[Key]*list.Element)
	c.mu.Unlock()

	c.metrics.SetCacheSize(0)
	return c.runtime.Close(ctx)
}
