package pool

import "sort"

// maxSizeMultiple bounds best-fit lookups: a pooled buffer may serve a request
// only if its allocation is at most this multiple of the requested size.
// Handing a much larger buffer to a small request would pin memory the request
// cannot use.
const maxSizeMultiple = 8

// sizeFormatStrategy buckets buffers by exact (allocation size, format) and
// answers lookups best-fit: the smallest pooled allocation that is at least
// the requested size, within maxSizeMultiple, across all byte-compatible
// formats.  A per-format sorted size index makes the ceiling lookup cheap.
type sizeFormatStrategy struct {
	groups *groupedLinkedMap
	sizes  map[Format]*sizeIndex
}

// sizeIndex tracks how many pooled buffers exist per allocation size for one
// format.  keys stays sorted so a ceiling query is a single binary search.
type sizeIndex struct {
	keys   []int
	counts map[int]int
}

func newSizeFormatStrategy() *sizeFormatStrategy {
	return &sizeFormatStrategy{
		groups: newGroupedLinkedMap(),
		sizes:  make(map[Format]*sizeIndex),
	}
}

func (s *sizeFormatStrategy) index(f Format) *sizeIndex {
	idx, ok := s.sizes[f]
	if !ok {
		idx = &sizeIndex{counts: make(map[int]int)}
		s.sizes[f] = idx
	}
	return idx
}

func (idx *sizeIndex) add(size int) {
	if idx.counts[size] == 0 {
		i := sort.SearchInts(idx.keys, size)
		idx.keys = append(idx.keys, 0)
		copy(idx.keys[i+1:], idx.keys[i:])
		idx.keys[i] = size
	}
	idx.counts[size]++
}

func (idx *sizeIndex) remove(size int) {
	idx.counts[size]--
	if idx.counts[size] == 0 {
		delete(idx.counts, size)
		i := sort.SearchInts(idx.keys, size)
		if i < len(idx.keys) && idx.keys[i] == size {
			idx.keys = append(idx.keys[:i], idx.keys[i+1:]...)
		}
	}
}

// ceiling returns the smallest tracked size >= want, or 0 when none exists.
func (idx *sizeIndex) ceiling(want int) int {
	i := sort.SearchInts(idx.keys, want)
	if i == len(idx.keys) {
		return 0
	}
	return idx.keys[i]
}

func (s *sizeFormatStrategy) put(buf *PixelBuffer) {
	key := poolKey{size: buf.ByteSize(), format: buf.Format()}
	s.groups.put(key, buf)
	s.index(key.format).add(key.size)
}

// get returns a pooled buffer reconfigured to width x height in format, or nil
// when no suitable buffer is pooled.  The chosen bucket is the best fit over
// all compatible formats, bounded at maxSizeMultiple times the exact need.
func (s *sizeFormatStrategy) get(width, height int, format Format) *PixelBuffer {
	want := width * height * format.BytesPerPixel()
	best := s.findBestKey(want, format)
	if best == nil {
		// A miss still marks the exact bucket as used, keeping frequently
		// requested sizes warm through transient misses.  Empty buckets are
		// pruned during eviction, so this cannot grow unboundedly.
		s.groups.get(poolKey{size: want, format: format})
		return nil
	}
	buf := s.groups.get(*best)
	if buf == nil {
		// The index said the bucket was non-empty; keep them consistent.
		return nil
	}
	s.index(best.format).remove(best.size)
	// Compatible formats share a byte layout, so relabeling is free.
	buf.format = format
	if err := buf.Reconfigure(width, height); err != nil {
		// Cannot happen for a ceiling-selected bucket of a compatible format.
		s.put(buf)
		return nil
	}
	return buf
}

func (s *sizeFormatStrategy) findBestKey(want int, format Format) *poolKey {
	var best *poolKey
	for _, f := range compatibleFormats(format) {
		idx, ok := s.sizes[f]
		if !ok {
			continue
		}
		size := idx.ceiling(want)
		if size == 0 || size > want*maxSizeMultiple {
			continue
		}
		if best == nil || size < best.size {
			best = &poolKey{size: size, format: f}
		}
	}
	return best
}

// removeLast evicts the least-recently-used pooled buffer.
func (s *sizeFormatStrategy) removeLast() *PixelBuffer {
	buf := s.groups.removeLast()
	if buf != nil {
		s.index(buf.Format()).remove(buf.ByteSize())
	}
	return buf
}
