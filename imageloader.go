// Package imageloader is an asynchronous image loading library: requests are
// deduplicated per key, decoded results are reference counted and cached in
// memory, pixel allocations are recycled through a bucketed reuse pool, and a
// persistent disk tier serves repeat loads across processes.
package imageloader

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/Skryldev/image-loader/adapters/diskcache"
	"github.com/Skryldev/image-loader/adapters/fetch"
	"github.com/Skryldev/image-loader/cache"
	"github.com/Skryldev/image-loader/config"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/hooks"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/pool"
)

// Re-export the cache strategies for convenience.
const (
	CacheNone   = pipeline.CacheNone
	CacheSource = pipeline.CacheSource
	CacheResult = pipeline.CacheResult
	CacheAll    = pipeline.CacheAll
)

// Re-export the priorities.
const (
	PriorityLow       = core.PriorityLow
	PriorityNormal    = core.PriorityNormal
	PriorityHigh      = core.PriorityHigh
	PriorityImmediate = core.PriorityImmediate
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Loader is the primary entry point.
type Loader struct {
	cfg      config.Config
	logger   core.Logger
	metrics  *hooks.SketchMetrics
	registry *pipeline.Registry

	pool     *pool.BufferPool
	memCache *cache.ResourceCache
	disk     *diskcache.Cache // nil when the disk tier is disabled
	engine   *core.Engine
	http     *fetch.HTTPClient
}

// New creates a fully wired Loader with the stdlib decoder and the built-in
// transforms registered.
func New(cfg config.Config) (*Loader, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "loader.new", err)
	}
	cfg = config.Resolve(cfg)

	logger := hooks.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	})))
	metrics := hooks.NewSketchMetrics()

	bufPool := pool.NewBufferPool(cfg.PoolBytes, nil, logger)
	memCache := cache.NewResourceCache(cfg.MemoryCacheBytes)

	var disk *diskcache.Cache
	if cfg.DiskCache.Dir != "" {
		var err error
		disk, err = diskcache.New(diskcache.Options{
			Dir:      cfg.DiskCache.Dir,
			MaxBytes: cfg.DiskCache.MaxBytes,
			Compress: cfg.DiskCache.Compress,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
	}

	registry := pipeline.NewRegistry()
	registry.RegisterDecoder(pipeline.StdDecoder{})
	registry.RegisterTransform(pipeline.FitCenter{})
	registry.RegisterTransform(pipeline.CenterInside{})
	registry.RegisterTransform(pipeline.Identity{})

	engine := core.NewEngine(core.EngineConfig{
		MemoryCache:   memCache,
		SourceWorkers: cfg.SourceWorkers,
		QueueSize:     cfg.QueueSize,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
		Metrics:       metrics,
	})

	return &Loader{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		pool:     bufPool,
		memCache: memCache,
		disk:     disk,
		engine:   engine,
		http:     fetch.NewHTTPClient(cfg.FetchTimeout, int(cfg.MaxSourceBytes)),
	}, nil
}

// RegisterDecoder registers a custom decoder under its ID.
func (l *Loader) RegisterDecoder(d pipeline.Decoder) { l.registry.RegisterDecoder(d) }

// RegisterTransform registers a custom transform under its ID.
func (l *Loader) RegisterTransform(t pipeline.Transform) { l.registry.RegisterTransform(t) }

// FromURL starts a request for an HTTP(S) source.
func (l *Loader) FromURL(url string) *Request {
	return l.FromFetcher(l.http.Fetcher(url))
}

// FromFile starts a request for a local file.
func (l *Loader) FromFile(path string) *Request {
	return l.FromFetcher(fetch.NewFileFetcher(path, int(l.cfg.MaxSourceBytes)))
}

// FromFetcher starts a request for a custom source.
func (l *Loader) FromFetcher(f core.Fetcher) *Request {
	return &Request{
		loader:      l,
		fetcher:     f,
		width:       l.cfg.FrameWidth,
		height:      l.cfg.FrameHeight,
		decoderID:   "std",
		transformID: "fitcenter",
		cacheable:   true,
		strategy:    CacheAll,
		priority:    core.PriorityNormal,
	}
}

// Release returns a resource delivered by a load callback.
func (l *Loader) Release(res *core.SharedResource) { l.engine.Release(res) }

// TrimMemory applies a host memory-pressure signal to the memory cache and
// the reuse pool.
func (l *Loader) TrimMemory(level core.TrimLevel) {
	l.engine.TrimMemory(level)
	l.pool.TrimMemory(level)
}

// ClearMemory drops the memory cache and the reuse pool.
func (l *Loader) ClearMemory() {
	l.engine.ClearMemory()
	l.pool.ClearMemory()
}

// ClearDiskCache removes every persistent cache entry.
func (l *Loader) ClearDiskCache() error {
	if l.disk == nil {
		return nil
	}
	return l.disk.Clear()
}

// Stats is a point-in-time snapshot of the memory tiers.
type Stats struct {
	Pool             pool.Stats
	MemoryCacheBytes int
	MemoryCacheMax   int
	MemoryCacheLen   int
}

// Stats returns tier statistics.
func (l *Loader) Stats() Stats {
	return Stats{
		Pool:             l.pool.Snapshot(),
		MemoryCacheBytes: l.memCache.CurrentSize(),
		MemoryCacheMax:   l.memCache.MaxSize(),
		MemoryCacheLen:   l.memCache.Len(),
	}
}

// Metrics exposes the latency and hit-rate collector.
func (l *Loader) Metrics() *hooks.SketchMetrics { return l.metrics }

// Close shuts down the engine, the worker pools, and the HTTP transport.
// In-flight loads are cancelled; their callbacks never fire.
func (l *Loader) Close() error {
	l.engine.Close()
	return l.http.Close()
}

// ── Request builder ───────────────────────────────────────────────────────────

// Request accumulates load options.  Misconfiguration surfaces when Load is
// called, not at the chained setters.
type Request struct {
	loader  *Loader
	fetcher core.Fetcher

	width       int
	height      int
	signature   string
	decoderID   string
	transformID string
	cacheable   bool
	strategy    pipeline.CacheStrategy
	priority    core.Priority
}

// Resize sets the target dimensions.
func (r *Request) Resize(width, height int) *Request {
	r.width, r.height = width, height
	return r
}

// Signature mixes an opaque version tag into the key, invalidating cached
// entries when the source content changes behind a stable ID.
func (r *Request) Signature(sig string) *Request {
	r.signature = sig
	return r
}

// Decoder selects a registered decoder by ID.
func (r *Request) Decoder(id string) *Request {
	r.decoderID = id
	return r
}

// Transform selects a registered transform by ID.
func (r *Request) Transform(id string) *Request {
	r.transformID = id
	return r
}

// MemoryCacheable controls whether the result may enter the memory tiers.
func (r *Request) MemoryCacheable(on bool) *Request {
	r.cacheable = on
	return r
}

// DiskCache selects which artifacts are persisted.
func (r *Request) DiskCache(s pipeline.CacheStrategy) *Request {
	r.strategy = s
	return r
}

// Priority orders this request's source fetch against competing ones.
func (r *Request) Priority(p core.Priority) *Request {
	r.priority = p
	return r
}

// Key returns the request key the load will be deduplicated under.
func (r *Request) Key() core.Key {
	return core.Key{
		SourceID:    r.fetcher.ID(),
		Signature:   r.signature,
		Width:       r.width,
		Height:      r.height,
		DecoderID:   r.decoderID,
		TransformID: r.transformID,
	}
}

// Load submits the request.  cb fires exactly once on the engine's
// coordination goroutine; resources it delivers must be returned via Release.
func (r *Request) Load(cb core.ResourceCallback) (*core.LoadStatus, error) {
	if r.width <= 0 || r.height <= 0 {
		return nil, apperrors.New(apperrors.CategoryConfig, "request.load",
			apperrors.ErrInvalidDimensions)
	}
	decoder, err := r.loader.registry.Decoder(r.decoderID)
	if err != nil {
		return nil, err
	}
	transform, err := r.loader.registry.Transform(r.transformID)
	if err != nil {
		return nil, err
	}

	key := r.Key()
	var disk core.PersistentCache
	if r.loader.disk != nil {
		disk = r.loader.disk
	}
	task := pipeline.NewDecodeTask(pipeline.TaskConfig{
		Key:       key,
		Width:     r.width,
		Height:    r.height,
		Priority:  r.priority,
		Fetcher:   r.fetcher,
		Decoder:   decoder,
		Transform: transform,
		Disk:      disk,
		Strategy:  r.strategy,
		Pool:      r.loader.pool,
		Logger:    r.loader.logger,
		Metrics:   r.loader.metrics,
	})
	return r.loader.engine.Load(core.LoadRequest{
		Key:       key,
		Cacheable: r.cacheable,
		Pipeline:  task,
	}, cb), nil
}

// LoadSync blocks until the load finishes or ctx expires.  On ctx expiry the
// load is cancelled for this caller.
func (r *Request) LoadSync(ctx context.Context) (*core.SharedResource, error) {
	type outcome struct {
		res *core.SharedResource
		err error
	}
	var (
		mu        sync.Mutex
		abandoned bool
	)
	ch := make(chan outcome, 1)
	deliver := func(out outcome) {
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			// The cancel lost the race with completion; hand the resource
			// straight back so it is not leaked.
			if out.res != nil {
				r.loader.engine.Release(out.res)
			}
			return
		}
		ch <- out
	}
	status, err := r.Load(&callbackFunc{
		ready:  func(res *core.SharedResource) { deliver(outcome{res: res}) },
		failed: func(err error) { deliver(outcome{err: err}) },
	})
	if err != nil {
		return nil, err
	}
	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		mu.Unlock()
		status.Cancel()
		select {
		case out := <-ch: // delivered before the flag was set
			if out.res != nil {
				r.loader.engine.Release(out.res)
			}
		default:
		}
		return nil, apperrors.New(apperrors.CategoryFetch, "request.load_sync",
			apperrors.ErrLoadCancelled)
	}
}

// callbackFunc adapts plain functions to core.ResourceCallback.  Always a
// pointer: the engine identifies callbacks by comparison, and a struct of
// funcs is not comparable.
type callbackFunc struct {
	ready  func(*core.SharedResource)
	failed func(error)
}

func (c *callbackFunc) OnResourceReady(res *core.SharedResource) { c.ready(res) }
func (c *callbackFunc) OnLoadFailed(err error)                   { c.failed(err) }

// Callbacks builds a core.ResourceCallback from two functions.
func Callbacks(ready func(*core.SharedResource), failed func(error)) core.ResourceCallback {
	return &callbackFunc{ready: ready, failed: failed}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
