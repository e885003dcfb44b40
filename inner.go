package imageloader

import (
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/pool"
)

// Engine exposes the underlying load engine for advanced use (custom pipeline
// wiring, direct Load calls).  Prefer the high-level API for normal usage.
func (l *Loader) Engine() *core.Engine { return l.engine }

// Pool exposes the pixel-buffer reuse pool so custom decoders and transforms
// can allocate through it.
func (l *Loader) Pool() *pool.BufferPool { return l.pool }

// Registry exposes the decoder/transform registry.
func (l *Loader) Registry() *pipeline.Registry { return l.registry }
