package core

import "fmt"

// resourceListener is notified exactly once when a SharedResource's reference
// count returns to zero.  The engine is the canonical listener.
type resourceListener interface {
	onResourceReleased(key Key, res *SharedResource)
}

// SharedResource is a reference-counted wrapper around a decoded Resource.
// While the count is positive the resource is "active" and owned by its
// consumers; at zero it is handed back to the engine, which either parks it
// in the strong cache or recycles it.
//
// All reference-count mutation happens on the engine's coordination
// goroutine, so no atomics are needed.
type SharedResource struct {
	res       Resource
	cacheable bool
	refs      int

	key      Key
	listener resourceListener
}

// NewSharedResource wraps a decoded resource.  The engine calls this when a
// job completes; it is exported for custom MemoryCache implementations and
// their tests.
func NewSharedResource(res Resource, cacheable bool) *SharedResource {
	return &SharedResource{res: res, cacheable: cacheable}
}

// Resource returns the wrapped decoded result.
func (s *SharedResource) Resource() Resource { return s.res }

// SizeBytes reports the wrapped resource's memory footprint.
func (s *SharedResource) SizeBytes() int { return s.res.SizeBytes() }

// Cacheable reports whether the resource may enter the memory cache tiers.
func (s *SharedResource) Cacheable() bool { return s.cacheable }

func (s *SharedResource) setListener(key Key, l resourceListener) {
	s.key = key
	s.listener = l
}

func (s *SharedResource) acquire() {
	s.refs++
}

func (s *SharedResource) release() {
	if s.refs <= 0 {
		panic(fmt.Sprintf("release of unacquired resource %s (refs=%d)", s.key, s.refs))
	}
	s.refs--
	if s.refs == 0 && s.listener != nil {
		s.listener.onResourceReleased(s.key, s)
	}
}

func (s *SharedResource) recycle() {
	s.res.Recycle()
}
