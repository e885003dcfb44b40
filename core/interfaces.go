package core

import (
	"context"
	"io"
	"time"
)

// Resource is a decoded, recyclable result produced by a DecodePipeline.
// Implementations own their backing memory and return it to a reuse pool
// (or free it) when Recycle is called.
type Resource interface {
	// SizeBytes reports the memory held by the resource, used for cache sizing.
	SizeBytes() int
	// Recycle releases the backing memory.  The resource must not be used
	// afterwards.  Recycle is called at most once, by the engine.
	Recycle()
}

// Priority orders competing source fetches.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

// Fetcher retrieves the raw bytes for a source that is not in the disk cache.
// Implementations live in adapters/fetch/.
type Fetcher interface {
	// ID returns the source identifier mixed into the request key.
	ID() string
	// LoadData fetches the raw data.  Blocking; runs on the source executor.
	LoadData(ctx context.Context, priority Priority) ([]byte, error)
	// Cancel aborts an in-flight LoadData, if possible.  Cooperative.
	Cancel()
	// Cleanup releases any per-fetch state after the data has been consumed.
	Cleanup()
}

// DecodePipeline turns cached or fetched bytes into a Resource.  The engine
// drives it in two phases: the cache methods run on the serialized cache
// executor, DecodeFromSource on the parallel source executor.  A (nil, nil)
// return means "not present at this tier"; the engine then tries the next
// phase.
type DecodePipeline interface {
	// DecodeResultFromCache returns a resource decoded from the transformed
	// result previously written to the persistent cache.
	DecodeResultFromCache() (Resource, error)
	// DecodeSourceFromCache decodes, transforms, and (if configured) writes
	// back a resource from raw source bytes in the persistent cache.
	DecodeSourceFromCache() (Resource, error)
	// DecodeFromSource fetches the original data and produces the resource.
	DecodeFromSource() (Resource, error)
	// Cancel aborts in-flight work.  Cooperative.
	Cancel()
}

// PersistentCache is the slow second-level tier consulted inside the decode
// pipeline.  Keys are content digests (see Key.Digest).  Get returns
// (nil, nil) on a miss.
type PersistentCache interface {
	Get(digest string) ([]byte, error)
	Put(digest string, write func(w io.Writer) error) error
	Delete(digest string) error
	Clear() error
}

// ResourceCallback receives the terminal outcome of a load.  Callbacks are
// invoked on the engine's coordination goroutine and must not block.
type ResourceCallback interface {
	// OnResourceReady delivers the resource, already acquired on the
	// caller's behalf.  The caller must release it via Engine.Release.
	OnResourceReady(res *SharedResource)
	// OnLoadFailed delivers a terminal failure.
	OnLoadFailed(err error)
}

// MemoryCache is the bounded strong tier holding unreferenced resources.
// Implementations must be safe for concurrent use; the cache package
// provides the LRU-backed default.
type MemoryCache interface {
	Put(key Key, res *SharedResource)
	// Remove removes and returns the entry without invoking the eviction
	// handler; the caller takes ownership.
	Remove(key Key) (*SharedResource, bool)
	// SetEvictionHandler installs the hook invoked once per evicted entry.
	SetEvictionHandler(h func(res *SharedResource))
	TrimToSize(bytes int)
	Trim(level TrimLevel)
	Clear()
	CurrentSize() int
	MaxSize() int
}

// TrimLevel is the memory-pressure signal delivered by the host environment.
// The values mirror the host's cached-process importance thresholds.
type TrimLevel int

const (
	// TrimLevelBackground: the process has entered the reclaim list.
	// Tiers drop half their contents.
	TrimLevelBackground TrimLevel = 40
	// TrimLevelModerate: the process is nearing the middle of the reclaim
	// list.  Tiers drop everything.
	TrimLevelModerate TrimLevel = 60
)

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector receives performance observations from the engine.
type MetricsCollector interface {
	RecordLatency(op string, d time.Duration)
	RecordHit(tier string)
	RecordMiss(tier string)
	RecordError(category string)
}

// nopLogger and nopMetrics keep nil-checks out of hot paths.

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

type nopMetrics struct{}

func (nopMetrics) RecordLatency(string, time.Duration) {}
func (nopMetrics) RecordHit(string)                    {}
func (nopMetrics) RecordMiss(string)                   {}
func (nopMetrics) RecordError(string)                  {}

// NopMetrics returns a MetricsCollector that discards everything.
func NopMetrics() MetricsCollector { return nopMetrics{} }
