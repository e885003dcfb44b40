// Package diskcache implements the persistent cache tier on the local
// filesystem: content-digest entry names fanned out over 256 subdirectories,
// per-entry advisory file locks, atomic temp-file writes, and optional zstd
// compression.
package diskcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// One decoder serves all caches in the process; DecodeAll is safe for
// concurrent use.  Writes stream through a per-Put encoder instead, since
// entry contents arrive through a writer callback.
var zstdDecoder *zstd.Decoder

func init() {
	zstdDecoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1))
}

// evictionHeadroom keeps a sweep from retriggering on the very next Put.
const evictionHeadroom = 0.9

// Cache is a digest-addressed file cache.  Entries are immutable once
// written; concurrent writers of the same digest serialize on a per-entry
// lock file, and readers never observe partial writes thanks to the
// write-to-temp-then-rename protocol.
type Cache struct {
	dir      string
	maxBytes int64
	compress bool

	mu     sync.Mutex
	size   int64 // approximate; corrected by sweeps
	logger core.Logger
}

var _ core.PersistentCache = (*Cache)(nil)

// Options configures a Cache.
type Options struct {
	Dir      string
	MaxBytes int64 // 0 disables the bound
	Compress bool
	Logger   core.Logger
}

// New opens (creating if needed) the cache directory and its 256 fan-out
// subdirectories.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "diskcache.new",
			fmt.Errorf("cache directory not set"))
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger()
	}
	for i := 0; i < 256; i++ {
		sub := filepath.Join(opts.Dir, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryCache, "diskcache.new", err)
		}
	}
	c := &Cache{
		dir:      opts.Dir,
		maxBytes: opts.MaxBytes,
		compress: opts.Compress,
		logger:   opts.Logger,
	}
	c.size = c.measure()
	return c, nil
}

func (c *Cache) entryPath(digest string) string {
	if len(digest) < 2 {
		digest = "00" + digest
	}
	return filepath.Join(c.dir, digest[:2], digest)
}

// Get returns the entry bytes, or (nil, nil) when the digest is not cached.
func (c *Cache) Get(digest string) ([]byte, error) {
	path := c.entryPath(digest)

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "diskcache.get", err)
	}
	data, err := os.ReadFile(path)
	unlockErr := lock.Unlock()
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "diskcache.get", err)
	}
	if unlockErr != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "diskcache.get", unlockErr)
	}

	if c.compress {
		data, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			// A corrupt entry is a miss, not a failure; drop it.
			c.logger.Warn("diskcache.corrupt_entry", "digest", digest, "error", err.Error())
			_ = c.Delete(digest)
			return nil, nil
		}
	}
	return data, nil
}

// Put writes an entry via the write callback.  The first writer of a digest
// wins; later writers see the existing entry and return without rewriting it.
func (c *Cache) Put(digest string, write func(w io.Writer) error) error {
	path := c.entryPath(digest)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "put-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
	}
	defer os.Remove(tmp.Name())

	if c.compress {
		enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			tmp.Close()
			return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
		}
		if err := write(enc); err != nil {
			enc.Close()
			tmp.Close()
			return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
		}
		if err := enc.Close(); err != nil {
			tmp.Close()
			return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
		}
	} else {
		if err := write(tmp); err != nil {
			tmp.Close()
			return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
		}
	}

	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return apperrors.Wrap(apperrors.CategoryCache, "diskcache.put", err)
	}

	c.mu.Lock()
	c.size += info.Size()
	over := c.maxBytes > 0 && c.size > c.maxBytes
	c.mu.Unlock()
	if over {
		c.sweep()
	}
	return nil
}

// Delete removes the entry for digest, if present.
func (c *Cache) Delete(digest string) error {
	path := c.entryPath(digest)
	err := os.Remove(path)
	_ = os.Remove(path + ".lock")
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.CategoryCache, "diskcache.delete", err)
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	entries, err := c.list()
	if err != nil {
		return err
	}
	for _, e := range entries {
		_ = os.Remove(e.path)
		_ = os.Remove(e.path + ".lock")
	}
	c.mu.Lock()
	c.size = 0
	c.mu.Unlock()
	return nil
}

// CurrentSize reports the approximate bytes on disk.
func (c *Cache) CurrentSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

type entryInfo struct {
	path  string
	size  int64
	mtime int64
}

func (c *Cache) list() ([]entryInfo, error) {
	var entries []entryInfo
	err := filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(path, ".lock") ||
			strings.Contains(filepath.Base(path), "put-") {
			return err
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		entries = append(entries, entryInfo{
			path:  path,
			size:  info.Size(),
			mtime: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryCache, "diskcache.list", err)
	}
	return entries, nil
}

func (c *Cache) measure() int64 {
	entries, err := c.list()
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	return total
}

// sweep evicts oldest-first until the cache fits comfortably under its bound.
func (c *Cache) sweep() {
	entries, err := c.list()
	if err != nil {
		c.logger.Warn("diskcache.sweep_failed", "error", err.Error())
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime < entries[j].mtime })

	var total int64
	for _, e := range entries {
		total += e.size
	}
	target := int64(float64(c.maxBytes) * evictionHeadroom)
	evicted := 0
	for _, e := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		_ = os.Remove(e.path + ".lock")
		total -= e.size
		evicted++
	}
	c.mu.Lock()
	c.size = total
	c.mu.Unlock()
	if evicted > 0 {
		c.logger.Debug("diskcache.sweep", "evicted", evicted, "size", total)
	}
}
