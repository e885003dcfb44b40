package pipeline

import (
	"bytes"
	"image"
	"image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pool"
)

// StdDecoder decodes JPEG, PNG, GIF, BMP, and WebP through the image registry
// into pooled RGBA8888 buffers.
type StdDecoder struct{}

var _ Decoder = StdDecoder{}

func (StdDecoder) ID() string { return "std" }

func (StdDecoder) Decode(data []byte, bp *pool.BufferPool) (*pool.PixelBuffer, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "decoder.std",
			apperrors.ErrEmptySource)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "decoder.std", err)
	}

	bounds := img.Bounds()
	buf, err := bp.GetDirty(bounds.Dx(), bounds.Dy(), pool.FormatRGBA8888)
	if err != nil {
		return nil, err
	}

	// Every pixel is overwritten, so the dirty buffer is fine.
	dst := rgbaView(buf)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return buf, nil
}

// rgbaView wraps a pooled RGBA8888 buffer as an *image.RGBA sharing the same
// pixels.
func rgbaView(buf *pool.PixelBuffer) *image.RGBA {
	return &image.RGBA{
		Pix:    buf.Pix(),
		Stride: buf.Width() * 4,
		Rect:   image.Rect(0, 0, buf.Width(), buf.Height()),
	}
}
