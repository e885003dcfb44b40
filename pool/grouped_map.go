package pool

// poolKey identifies a bucket: all buffers with the same allocation size and
// format are interchangeable.
type poolKey struct {
	size   int
	format Format
}

// groupedLinkedMap stores buffers in buckets with bucket-level LRU ordering:
// the bucket list records which bucket was used most recently, and eviction
// always takes from the tail bucket.  Stores and lookups both count as a use,
// a lookup even when the bucket turns out to be empty, matching the access
// pattern the pool is optimizing for.
type groupedLinkedMap struct {
	head    *bucketEntry // sentinel
	buckets map[poolKey]*bucketEntry
}

type bucketEntry struct {
	key    poolKey
	values []*PixelBuffer
	prev   *bucketEntry
	next   *bucketEntry
}

func newGroupedLinkedMap() *groupedLinkedMap {
	sentinel := &bucketEntry{}
	sentinel.prev = sentinel
	sentinel.next = sentinel
	return &groupedLinkedMap{
		head:    sentinel,
		buckets: make(map[poolKey]*bucketEntry),
	}
}

// get pops a buffer from the bucket for key, moving the bucket to the head of
// the LRU list.  Returns nil when the bucket is empty.
func (m *groupedLinkedMap) get(key poolKey) *PixelBuffer {
	entry, ok := m.buckets[key]
	if !ok {
		entry = &bucketEntry{key: key}
		m.buckets[key] = entry
	}
	m.makeHead(entry)

	n := len(entry.values)
	if n == 0 {
		return nil
	}
	buf := entry.values[n-1]
	entry.values[n-1] = nil
	entry.values = entry.values[:n-1]
	return buf
}

// put stores a buffer in the bucket for key, moving the bucket to the head of
// the LRU list.  Storing counts as a use just like a lookup does, so a buffer
// parked a moment ago is never the first eviction victim.
func (m *groupedLinkedMap) put(key poolKey, buf *PixelBuffer) {
	entry, ok := m.buckets[key]
	if !ok {
		entry = &bucketEntry{key: key}
		m.buckets[key] = entry
	}
	m.makeHead(entry)
	entry.values = append(entry.values, buf)
}

// removeLast evicts one buffer from the least-recently-used non-empty bucket,
// pruning empty buckets as it walks.  Returns nil when the map is empty.
func (m *groupedLinkedMap) removeLast() *PixelBuffer {
	for entry := m.head.prev; entry != m.head; entry = m.head.prev {
		n := len(entry.values)
		if n > 0 {
			buf := entry.values[n-1]
			entry.values[n-1] = nil
			entry.values = entry.values[:n-1]
			return buf
		}
		m.unlink(entry)
		delete(m.buckets, entry.key)
	}
	return nil
}

func (m *groupedLinkedMap) makeHead(e *bucketEntry) {
	m.unlink(e)
	e.prev = m.head
	e.next = m.head.next
	e.prev.next = e
	e.next.prev = e
}

func (m *groupedLinkedMap) unlink(e *bucketEntry) {
	if e.prev == nil || e.next == nil {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}
