// Package pipeline turns cached or fetched bytes into pooled pixel buffers.
// A DecodeTask strings together a fetcher, a decoder, and a transform, and is
// driven phase by phase by the engine.
package pipeline

import (
	"sync"

	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pool"
)

// Decoder decodes encoded source bytes into a pooled pixel buffer at native
// size.  Implementations must be safe for concurrent use.
type Decoder interface {
	// ID is the stable name mixed into request keys.
	ID() string
	Decode(data []byte, bp *pool.BufferPool) (*pool.PixelBuffer, error)
}

// Transform produces the final buffer for the requested dimensions, consuming
// the input buffer (returning it to the pool or passing it through).
type Transform interface {
	// ID is the stable name mixed into request keys.
	ID() string
	Apply(src *pool.PixelBuffer, width, height int, bp *pool.BufferPool) (*pool.PixelBuffer, error)
}

// Registry maps decoder and transform names to implementations.  A Loader
// owns one; callers register custom stages before building requests.
type Registry struct {
	mu         sync.RWMutex
	decoders   map[string]Decoder
	transforms map[string]Transform
}

func NewRegistry() *Registry {
	return &Registry{
		decoders:   make(map[string]Decoder),
		transforms: make(map[string]Transform),
	}
}

func (r *Registry) RegisterDecoder(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[d.ID()] = d
}

func (r *Registry) RegisterTransform(t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[t.ID()] = t
}

func (r *Registry) Decoder(id string) (Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[id]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryConfig, "registry.decoder",
			apperrors.ErrNoDecoder)
	}
	return d, nil
}

func (r *Registry) Transform(id string) (Transform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[id]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryConfig, "registry.transform",
			apperrors.ErrNoTransform)
	}
	return t, nil
}
