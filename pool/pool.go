package pool

import (
	"math"
	"sync"

	"github.com/Skryldev/image-loader/core"
)

// Stats is a snapshot of pool activity counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Puts        int64
	Evictions   int64
	CurrentSize int
	MaxSize     int
}

// BufferPool is the size-bounded, format-aware reuse pool.  Get prefers a
// pooled allocation over a fresh one; Put parks mutable buffers for reuse and
// evicts least-recently-used buckets when the byte bound is exceeded.  Safe
// for concurrent use.
type BufferPool struct {
	mu       sync.Mutex
	strategy *sizeFormatStrategy
	allowed  map[Format]struct{}

	initialMax int
	maxSize    int
	current    int

	hits      int64
	misses    int64
	puts      int64
	evictions int64

	logger core.Logger
}

// NewBufferPool builds a pool bounded at maxBytes accepting the given formats.
// A nil or empty format list accepts every known format.
func NewBufferPool(maxBytes int, formats []Format, logger core.Logger) *BufferPool {
	if logger == nil {
		logger = core.NopLogger()
	}
	if len(formats) == 0 {
		formats = []Format{FormatRGBA8888, FormatBGRA8888, FormatRGB565, FormatGray8, FormatAlpha8}
	}
	allowed := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		allowed[f] = struct{}{}
	}
	return &BufferPool{
		strategy:   newSizeFormatStrategy(),
		allowed:    allowed,
		initialMax: maxBytes,
		maxSize:    maxBytes,
		logger:     logger,
	}
}

// Put offers a buffer back to the pool.  Immutable, oversized, or
// disallowed-format buffers are rejected and reported false; the caller keeps
// ownership and the buffer is simply dropped to the allocator.
func (p *BufferPool) Put(buf *PixelBuffer) bool {
	if buf == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allowed[buf.Format()]; !ok || !buf.Mutable() || buf.ByteSize() > p.maxSize {
		p.logger.Debug("pool.put.rejected",
			"format", buf.Format().String(),
			"size", buf.ByteSize(),
			"mutable", buf.Mutable())
		return false
	}
	if buf.pooled {
		panic("pool: buffer put twice")
	}
	buf.pooled = true

	p.strategy.put(buf)
	p.puts++
	p.current += buf.ByteSize()
	p.evictLocked(p.maxSize)
	return true
}

// Get returns a zeroed buffer of the requested shape, reusing a pooled
// allocation when a best-fit candidate exists.
func (p *BufferPool) Get(width, height int, format Format) (*PixelBuffer, error) {
	buf, err := p.GetDirty(width, height, format)
	if err != nil {
		return nil, err
	}
	buf.Clear()
	return buf, nil
}

// GetDirty is Get without the zeroing pass, for callers that overwrite every
// pixel anyway.
func (p *BufferPool) GetDirty(width, height int, format Format) (*PixelBuffer, error) {
	p.mu.Lock()
	if buf := p.strategy.get(width, height, format); buf != nil {
		buf.pooled = false
		p.hits++
		p.current -= buf.ByteSize()
		p.mu.Unlock()
		return buf, nil
	}
	p.misses++
	p.mu.Unlock()
	return NewPixelBuffer(width, height, format)
}

// SetSizeMultiplier rescales the bound relative to the size the pool was
// constructed with, then evicts down to the new bound.
func (p *BufferPool) SetSizeMultiplier(multiplier float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxSize = int(math.Round(float64(p.initialMax) * multiplier))
	p.evictLocked(p.maxSize)
}

// TrimToSize evicts least-recently-used buckets until at most target bytes
// remain pooled.
func (p *BufferPool) TrimToSize(target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(target)
}

// ClearMemory drops every pooled buffer.
func (p *BufferPool) ClearMemory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(0)
}

// TrimMemory applies a host memory-pressure signal: moderate pressure empties
// the pool, background pressure halves it.
func (p *BufferPool) TrimMemory(level core.TrimLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case level >= core.TrimLevelModerate:
		p.evictLocked(0)
	case level >= core.TrimLevelBackground:
		p.evictLocked(p.current / 2)
	}
}

// Snapshot returns the activity counters.
func (p *BufferPool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Hits:        p.hits,
		Misses:      p.misses,
		Puts:        p.puts,
		Evictions:   p.evictions,
		CurrentSize: p.current,
		MaxSize:     p.maxSize,
	}
}

// CurrentSize reports the pooled bytes.
func (p *BufferPool) CurrentSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// MaxSize reports the bound in bytes.
func (p *BufferPool) MaxSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxSize
}

func (p *BufferPool) evictLocked(target int) {
	for p.current > target {
		buf := p.strategy.removeLast()
		if buf == nil {
			// Accounting drifted from the strategy contents; reset rather
			// than loop forever.
			p.logger.Warn("pool.evict.size_mismatch", "current", p.current)
			p.current = 0
			return
		}
		buf.pooled = false
		p.current -= buf.ByteSize()
		p.evictions++
	}
}
