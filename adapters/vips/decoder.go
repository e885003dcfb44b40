// Package vips provides a libvips-powered decoder as a drop-in replacement
// for the stdlib one, for workloads where decode throughput dominates.
package vips

import (
	"fmt"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/pool"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend is a libvips-backed pipeline.Decoder.  Safe for concurrent use
// across goroutines.
type Backend struct {
	cfg BackendConfig
}

var _ pipeline.Decoder = (*Backend)(nil)

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

func (b *Backend) ID() string { return "vips" }

// Decode decodes via libvips into a pooled RGBA8888 buffer.
func (b *Backend) Decode(data []byte, bp *pool.BufferPool) (*pool.PixelBuffer, error) {
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode",
			apperrors.ErrEmptySource)
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	if err := ref.ToColorSpace(govips.InterpretationSRGB); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.colorspace", err)
	}
	if !ref.HasAlpha() {
		if err := ref.AddAlpha(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.alpha", err)
		}
	}

	width, height := ref.Width(), ref.Height()
	raw, err := ref.ToBytes()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}
	if len(raw) != width*height*4 {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode.export",
			fmt.Errorf("unexpected band layout: %d bytes for %dx%d RGBA", len(raw), width, height))
	}

	buf, err := bp.GetDirty(width, height, pool.FormatRGBA8888)
	if err != nil {
		return nil, err
	}
	copy(buf.Pix(), raw)
	return buf, nil
}
