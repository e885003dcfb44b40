// Package pool implements the bucketed pixel-buffer reuse pool: fixed-format
// buffers grouped by (allocation size, format), recycled through a bucket-level
// LRU so that decode churn does not translate into allocator churn.
package pool

import (
	"fmt"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// Format describes the pixel layout of a buffer.
type Format int

const (
	FormatRGBA8888 Format = iota
	FormatBGRA8888
	FormatRGB565
	FormatGray8
	FormatAlpha8
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA8888"
	case FormatBGRA8888:
		return "BGRA8888"
	case FormatRGB565:
		return "RGB565"
	case FormatGray8:
		return "GRAY8"
	case FormatAlpha8:
		return "ALPHA8"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// BytesPerPixel reports the storage cost of one pixel in this format.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888, FormatBGRA8888:
		return 4
	case FormatRGB565:
		return 2
	case FormatGray8, FormatAlpha8:
		return 1
	default:
		return 4
	}
}

// compatibleFormats lists, per format, the formats whose allocations are
// byte-compatible and may be substituted on a pool lookup, the requested
// format first.  The two 4-byte layouts can reuse each other's memory;
// everything else matches exactly.  An unknown format falls back to the
// RGBA8888 class.
func compatibleFormats(f Format) []Format {
	switch f {
	case FormatRGBA8888:
		return []Format{FormatRGBA8888, FormatBGRA8888}
	case FormatBGRA8888:
		return []Format{FormatBGRA8888, FormatRGBA8888}
	case FormatRGB565:
		return []Format{FormatRGB565}
	case FormatGray8:
		return []Format{FormatGray8}
	case FormatAlpha8:
		return []Format{FormatAlpha8}
	default:
		return []Format{FormatRGBA8888, FormatBGRA8888}
	}
}

// PixelBuffer is a reusable pixel allocation.  Its backing slice never shrinks:
// Reconfigure retargets the logical dimensions within the original allocation,
// which is what lets a larger pooled buffer serve a smaller request.
type PixelBuffer struct {
	data   []byte
	width  int
	height int
	format Format

	mutable bool
	pooled  bool
}

// NewPixelBuffer allocates a fresh mutable buffer.
func NewPixelBuffer(width, height int, format Format) (*PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, apperrors.New(apperrors.CategoryPool, "buffer.new",
			apperrors.ErrInvalidDimensions)
	}
	return &PixelBuffer{
		data:    make([]byte, width*height*format.BytesPerPixel()),
		width:   width,
		height:  height,
		format:  format,
		mutable: true,
	}, nil
}

// Width and Height report the logical dimensions.
func (b *PixelBuffer) Width() int  { return b.width }
func (b *PixelBuffer) Height() int { return b.height }

// Format reports the pixel layout.
func (b *PixelBuffer) Format() Format { return b.format }

// ByteSize reports the full backing allocation, not the logical image size.
// Pool accounting and bucketing are keyed on this value.
func (b *PixelBuffer) ByteSize() int { return len(b.data) }

// Mutable reports whether the buffer may be pooled and reused.  Immutable
// buffers (shared views, mapped data) are rejected by Put.
func (b *PixelBuffer) Mutable() bool { return b.mutable }

// SetMutable marks the buffer as (non-)reusable.
func (b *PixelBuffer) SetMutable(m bool) { b.mutable = m }

// Pix returns the pixel bytes for the logical dimensions.
func (b *PixelBuffer) Pix() []byte {
	return b.data[:b.width*b.height*b.format.BytesPerPixel()]
}

// Reconfigure retargets the buffer to new logical dimensions within its
// existing allocation.  The format is fixed at allocation time.
func (b *PixelBuffer) Reconfigure(width, height int) error {
	if width <= 0 || height <= 0 {
		return apperrors.New(apperrors.CategoryPool, "buffer.reconfigure",
			apperrors.ErrInvalidDimensions)
	}
	need := width * height * b.format.BytesPerPixel()
	if need > len(b.data) {
		return apperrors.New(apperrors.CategoryPool, "buffer.reconfigure",
			fmt.Errorf("need %d bytes, allocation holds %d", need, len(b.data)))
	}
	b.width = width
	b.height = height
	return nil
}

// Clear zeroes the pixel bytes.
func (b *PixelBuffer) Clear() {
	p := b.Pix()
	for i := range p {
		p[i] = 0
	}
}
