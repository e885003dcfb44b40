package pool

import "github.com/Skryldev/image-loader/core"

// BufferResource adapts a PixelBuffer into the engine's Resource contract:
// recycling hands the buffer back to the pool it came from.
type BufferResource struct {
	buf  *PixelBuffer
	pool *BufferPool
}

var _ core.Resource = (*BufferResource)(nil)

// NewBufferResource wraps buf.  pool may be nil, in which case recycling just
// drops the buffer to the allocator.
func NewBufferResource(buf *PixelBuffer, pool *BufferPool) *BufferResource {
	return &BufferResource{buf: buf, pool: pool}
}

// Buffer returns the wrapped pixel buffer.
func (r *BufferResource) Buffer() *PixelBuffer { return r.buf }

func (r *BufferResource) SizeBytes() int { return r.buf.ByteSize() }

func (r *BufferResource) Recycle() {
	if r.pool != nil {
		r.pool.Put(r.buf)
	}
	r.buf = nil
}
