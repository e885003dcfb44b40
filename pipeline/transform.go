package pipeline

import (
	xdraw "golang.org/x/image/draw"

	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pool"
)

// FitCenter scales the source to the largest size that fits entirely within
// the requested dimensions while preserving aspect ratio.  The source buffer
// is returned to the pool.
type FitCenter struct{}

var _ Transform = FitCenter{}

func (FitCenter) ID() string { return "fitcenter" }

func (FitCenter) Apply(src *pool.PixelBuffer, width, height int, bp *pool.BufferPool) (*pool.PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "transform.fitcenter",
			apperrors.ErrInvalidDimensions)
	}
	outW, outH := fitWithin(src.Width(), src.Height(), width, height)
	if outW == src.Width() && outH == src.Height() {
		return src, nil
	}

	dst, err := bp.GetDirty(outW, outH, pool.FormatRGBA8888)
	if err != nil {
		return nil, err
	}
	srcView := rgbaView(src)
	dstView := rgbaView(dst)
	xdraw.ApproxBiLinear.Scale(dstView, dstView.Bounds(), srcView, srcView.Bounds(), xdraw.Src, nil)
	bp.Put(src)
	return dst, nil
}

// fitWithin scales (w, h) down (or up) to fit in (maxW, maxH), preserving
// aspect ratio and never returning a zero dimension.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}

// CenterInside behaves like FitCenter but never scales up: a source already
// smaller than the target passes through untouched.
type CenterInside struct{}

var _ Transform = CenterInside{}

func (CenterInside) ID() string { return "centerinside" }

func (CenterInside) Apply(src *pool.PixelBuffer, width, height int, bp *pool.BufferPool) (*pool.PixelBuffer, error) {
	if src.Width() <= width && src.Height() <= height {
		return src, nil
	}
	return FitCenter{}.Apply(src, width, height, bp)
}

// Identity passes the decoded buffer through at native size.
type Identity struct{}

var _ Transform = Identity{}

func (Identity) ID() string { return "none" }

func (Identity) Apply(src *pool.PixelBuffer, _, _ int, _ *pool.BufferPool) (*pool.PixelBuffer, error) {
	return src, nil
}
