package pipeline

import (
	"encoding/binary"
	"fmt"
	"io"

	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pool"
)

// Transformed results are persisted as raw pixels behind a small header, so
// a result-cache hit skips both decode and transform.
//
//	magic "ILR1" | u32 width | u32 height | u32 format | pixels
const resultMagic = "ILR1"

const resultHeaderLen = 4 + 3*4

// encodeResult writes buf's logical pixels behind the result header.
func encodeResult(w io.Writer, buf *pool.PixelBuffer) error {
	var hdr [resultHeaderLen]byte
	copy(hdr[:4], resultMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(buf.Width()))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(buf.Height()))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(buf.Format()))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Pix())
	return err
}

// decodeResult reconstructs a pooled buffer from encoded result bytes.
func decodeResult(data []byte, bp *pool.BufferPool) (*pool.PixelBuffer, error) {
	if len(data) < resultHeaderLen || string(data[:4]) != resultMagic {
		return nil, apperrors.New(apperrors.CategoryCache, "result.decode",
			fmt.Errorf("malformed result entry (%d bytes)", len(data)))
	}
	width := int(binary.LittleEndian.Uint32(data[4:]))
	height := int(binary.LittleEndian.Uint32(data[8:]))
	format := pool.Format(binary.LittleEndian.Uint32(data[12:]))

	pixels := data[resultHeaderLen:]
	if width <= 0 || height <= 0 || len(pixels) != width*height*format.BytesPerPixel() {
		return nil, apperrors.New(apperrors.CategoryCache, "result.decode",
			fmt.Errorf("result entry %dx%d/%s does not match %d pixel bytes",
				width, height, format, len(pixels)))
	}

	buf, err := bp.GetDirty(width, height, format)
	if err != nil {
		return nil, err
	}
	copy(buf.Pix(), pixels)
	return buf, nil
}
