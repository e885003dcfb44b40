package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pool"
)

// CacheStrategy controls which artifacts a load writes to the persistent
// cache.
type CacheStrategy int

const (
	// CacheNone skips the persistent cache entirely.
	CacheNone CacheStrategy = iota
	// CacheSource persists the raw fetched bytes.
	CacheSource
	// CacheResult persists the transformed result pixels.
	CacheResult
	// CacheAll persists both.
	CacheAll
)

func (s CacheStrategy) cacheSource() bool { return s == CacheSource || s == CacheAll }
func (s CacheStrategy) cacheResult() bool { return s == CacheResult || s == CacheAll }

// DecodeTask is the per-request decode pipeline the engine drives.  The cache
// phases run serialized on the cache executor; DecodeFromSource runs on the
// parallel source executor.  A task is used for exactly one load.
type DecodeTask struct {
	key      core.Key
	width    int
	height   int
	priority core.Priority

	fetcher   core.Fetcher
	decoder   Decoder
	transform Transform
	disk      core.PersistentCache // nil disables the persistent tiers
	strategy  CacheStrategy
	pool      *pool.BufferPool

	ctx       context.Context
	ctxCancel context.CancelFunc
	cancelled atomic.Bool

	logger  core.Logger
	metrics core.MetricsCollector
}

var _ core.DecodePipeline = (*DecodeTask)(nil)

// TaskConfig wires a DecodeTask.
type TaskConfig struct {
	Key      core.Key
	Width    int
	Height   int
	Priority core.Priority

	Fetcher   core.Fetcher
	Decoder   Decoder
	Transform Transform
	Disk      core.PersistentCache
	Strategy  CacheStrategy
	Pool      *pool.BufferPool

	Logger  core.Logger
	Metrics core.MetricsCollector
}

func NewDecodeTask(cfg TaskConfig) *DecodeTask {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = core.NopMetrics()
	}
	return &DecodeTask{
		key:       cfg.Key,
		width:     cfg.Width,
		height:    cfg.Height,
		priority:  cfg.Priority,
		fetcher:   cfg.Fetcher,
		decoder:   cfg.Decoder,
		transform: cfg.Transform,
		disk:      cfg.Disk,
		strategy:  cfg.Strategy,
		pool:      cfg.Pool,
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// DecodeResultFromCache serves the transformed-result tier of the persistent
// cache.  (nil, nil) reports a miss.
func (t *DecodeTask) DecodeResultFromCache() (core.Resource, error) {
	if t.disk == nil || !t.strategy.cacheResult() || t.cancelled.Load() {
		return nil, nil
	}
	start := time.Now()
	data, err := t.disk.Get(t.key.Digest())
	if err != nil {
		return nil, err
	}
	if data == nil {
		t.metrics.RecordMiss("disk_result")
		return nil, nil
	}
	buf, err := decodeResult(data, t.pool)
	if err != nil {
		return nil, err
	}
	t.metrics.RecordHit("disk_result")
	t.metrics.RecordLatency("decode_result_cache", time.Since(start))
	return pool.NewBufferResource(buf, t.pool), nil
}

// DecodeSourceFromCache serves the raw-source tier: cached source bytes are
// decoded and transformed, and the result is written back so the next load of
// this key hits the result tier.
func (t *DecodeTask) DecodeSourceFromCache() (core.Resource, error) {
	if t.disk == nil || !t.strategy.cacheSource() || t.cancelled.Load() {
		return nil, nil
	}
	start := time.Now()
	data, err := t.disk.Get(t.key.SourceDigest())
	if err != nil {
		return nil, err
	}
	if data == nil {
		t.metrics.RecordMiss("disk_source")
		return nil, nil
	}
	t.metrics.RecordHit("disk_source")
	res, err := t.decodeAndTransform(data)
	if err != nil {
		return nil, err
	}
	t.metrics.RecordLatency("decode_source_cache", time.Since(start))
	return res, nil
}

// DecodeFromSource fetches the original bytes and produces the resource,
// persisting artifacts per the cache strategy.
func (t *DecodeTask) DecodeFromSource() (core.Resource, error) {
	if t.cancelled.Load() {
		return nil, apperrors.New(apperrors.CategoryFetch, "task.source",
			apperrors.ErrLoadCancelled)
	}
	start := time.Now()
	data, err := t.fetcher.LoadData(t.ctx, t.priority)
	defer t.fetcher.Cleanup()
	if err != nil {
		t.metrics.RecordError(string(apperrors.CategoryFetch))
		return nil, apperrors.Wrap(apperrors.CategoryFetch, "task.source", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryFetch, "task.source",
			apperrors.ErrEmptySource)
	}

	if t.disk != nil && t.strategy.cacheSource() {
		if werr := t.disk.Put(t.key.SourceDigest(), func(w io.Writer) error {
			_, e := w.Write(data)
			return e
		}); werr != nil {
			// A failed writeback costs a future cache hit, not this load.
			t.logger.Warn("pipeline.source_writeback_failed",
				"key", t.key.String(), "error", werr.Error())
		}
	}

	res, err := t.decodeAndTransform(data)
	if err != nil {
		return nil, err
	}
	t.metrics.RecordLatency("decode_source", time.Since(start))
	return res, nil
}

// Cancel aborts the in-flight phase.  A result produced by a phase that lost
// the race is recycled by the engine, never delivered.
func (t *DecodeTask) Cancel() {
	t.cancelled.Store(true)
	t.ctxCancel()
	t.fetcher.Cancel()
}

func (t *DecodeTask) decodeAndTransform(data []byte) (core.Resource, error) {
	decoded, err := t.decoder.Decode(data, t.pool)
	if err != nil {
		t.metrics.RecordError(string(apperrors.CategoryDecode))
		return nil, err
	}
	out, err := t.transform.Apply(decoded, t.width, t.height, t.pool)
	if err != nil {
		t.pool.Put(decoded)
		t.metrics.RecordError(string(apperrors.CategoryPipeline))
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "task.transform", err)
	}

	if t.disk != nil && t.strategy.cacheResult() {
		if werr := t.disk.Put(t.key.Digest(), func(w io.Writer) error {
			return encodeResult(w, out)
		}); werr != nil {
			t.logger.Warn("pipeline.result_writeback_failed",
				"key", t.key.String(), "error", werr.Error())
		}
	}
	return pool.NewBufferResource(out, t.pool), nil
}
