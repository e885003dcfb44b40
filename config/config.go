package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Config{} and override only what they need.
type Config struct {
	// Memory tiers.  Zero means "derive from MemoryBudgetBytes via the sizer".
	MemoryCacheBytes int
	PoolBytes        int

	// Sizer inputs used when the explicit sizes above are zero.
	MemoryBudgetBytes int
	FrameWidth        int // target display frame, pixels; default 1920
	FrameHeight       int // default 1080

	// Engine controls.
	SourceWorkers int           // default: runtime.NumCPU()
	QueueSize     int           // per-executor queue depth; default 256
	SweepInterval time.Duration // idle sweep of dead active-table entries; default 1s

	// Fetching.
	FetchTimeout   time.Duration // default 30s
	MaxSourceBytes int64         // 0 = no limit

	// Persistent cache.  Empty Dir disables the disk tier.
	DiskCache DiskCacheConfig

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// DiskCacheConfig configures the filesystem-backed persistent cache.
type DiskCacheConfig struct {
	Dir      string
	MaxBytes int64 // default 256 MiB
	Compress bool  // zstd-compress entries on disk
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		MemoryBudgetBytes: 256 * 1024 * 1024,
		FrameWidth:        1920,
		FrameHeight:       1080,
		QueueSize:         256,
		SweepInterval:     time.Second,
		FetchTimeout:      30 * time.Second,
		DiskCache: DiskCacheConfig{
			MaxBytes: 256 * 1024 * 1024,
		},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.MemoryCacheBytes < 0 || c.PoolBytes < 0 {
		return errors.New("config: cache and pool sizes must not be negative")
	}
	if c.MemoryCacheBytes == 0 && c.PoolBytes == 0 && c.MemoryBudgetBytes <= 0 {
		return errors.New("config: either explicit tier sizes or MemoryBudgetBytes is required")
	}
	if c.QueueSize < 0 {
		return errors.New("config: QueueSize must not be negative")
	}
	if c.DiskCache.Dir != "" && c.DiskCache.MaxBytes <= 0 {
		return errors.New("config: DiskCache.MaxBytes must be positive when the disk tier is enabled")
	}
	return nil
}
