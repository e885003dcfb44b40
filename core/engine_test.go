package core

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"weak"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

type fakeResource struct {
	size     int
	recycled atomic.Bool
}

func (r *fakeResource) SizeBytes() int { return r.size }
func (r *fakeResource) Recycle()       { r.recycled.Store(true) }

// fakePipeline serves configurable tier results.  gate, when non-nil, holds
// the source phase open so tests can overlap loads deterministically.
type fakePipeline struct {
	resultCache func() (Resource, error)
	sourceCache func() (Resource, error)
	source      func() (Resource, error)

	gate        chan struct{}
	started     chan struct{} // closed when the source phase begins
	startOnce   sync.Once
	sourceCalls atomic.Int32
	cancelled   atomic.Bool
}

func (p *fakePipeline) DecodeResultFromCache() (Resource, error) {
	if p.resultCache == nil {
		return nil, nil
	}
	return p.resultCache()
}

func (p *fakePipeline) DecodeSourceFromCache() (Resource, error) {
	if p.sourceCache == nil {
		return nil, nil
	}
	return p.sourceCache()
}

func (p *fakePipeline) DecodeFromSource() (Resource, error) {
	p.sourceCalls.Add(1)
	if p.started != nil {
		p.startOnce.Do(func() { close(p.started) })
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.source == nil {
		return &fakeResource{size: 100}, nil
	}
	return p.source()
}

func (p *fakePipeline) Cancel() { p.cancelled.Store(true) }

// recordingCallback collects outcomes.  Fields are written on the coordination
// goroutine; tests read them after synchronizing through done or flush.
type recordingCallback struct {
	mu   sync.Mutex
	res  *SharedResource
	err  error
	done chan struct{}
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{done: make(chan struct{}, 1)}
}

func (c *recordingCallback) OnResourceReady(res *SharedResource) {
	c.mu.Lock()
	c.res = res
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *recordingCallback) OnLoadFailed(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *recordingCallback) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func (c *recordingCallback) result() (*SharedResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res, c.err
}

// fakeMemoryCache is an unbounded MemoryCache.
type fakeMemoryCache struct {
	mu      sync.Mutex
	entries map[Key]*SharedResource
	onEvict func(*SharedResource)
}

func newFakeMemoryCache() *fakeMemoryCache {
	return &fakeMemoryCache{entries: make(map[Key]*SharedResource)}
}

func (c *fakeMemoryCache) Put(key Key, res *SharedResource) {
	c.mu.Lock()
	c.entries[key] = res
	c.mu.Unlock()
}

func (c *fakeMemoryCache) Remove(key Key) (*SharedResource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	return res, ok
}

func (c *fakeMemoryCache) SetEvictionHandler(h func(*SharedResource)) { c.onEvict = h }

func (c *fakeMemoryCache) TrimToSize(int) {}

func (c *fakeMemoryCache) Trim(TrimLevel) {}

func (c *fakeMemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]*SharedResource)
	c.mu.Unlock()
}

func (c *fakeMemoryCache) CurrentSize() int { return 0 }
func (c *fakeMemoryCache) MaxSize() int     { return 0 }

func (c *fakeMemoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func newTestEngine(t *testing.T) (*Engine, *fakeMemoryCache) {
	t.Helper()
	mc := newFakeMemoryCache()
	e := NewEngine(EngineConfig{
		MemoryCache:   mc,
		SourceWorkers: 2,
		QueueSize:     16,
		SweepInterval: time.Hour, // sweeps only when driven explicitly
	})
	t.Cleanup(e.Close)
	return e, mc
}

// flush runs fn on the coordination goroutine and waits for it, establishing
// a happens-before edge with everything the loop did earlier.
func flush(t *testing.T, e *Engine, fn func()) {
	t.Helper()
	done := make(chan struct{})
	e.post(msgFunc{fn: func() {
		if fn != nil {
			fn()
		}
		close(done)
	}})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the coordination goroutine")
	}
}

func testKey(id string) Key {
	return Key{SourceID: id, Width: 100, Height: 100, DecoderID: "std", TransformID: "fitcenter"}
}

// ── Deduplication ─────────────────────────────────────────────────────────────

func TestEngineDeduplicatesConcurrentLoads(t *testing.T) {
	e, _ := newTestEngine(t)
	p := &fakePipeline{gate: make(chan struct{})}
	key := testKey("img-1")

	cb1 := newRecordingCallback()
	cb2 := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb1)
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb2)

	// Both loads are registered on the one in-flight job before it finishes.
	flush(t, e, func() {
		if len(e.jobs) != 1 {
			t.Errorf("jobs: got %d, want 1", len(e.jobs))
		}
	})

	close(p.gate)
	cb1.wait(t)
	cb2.wait(t)

	res1, _ := cb1.result()
	res2, _ := cb2.result()
	if res1 == nil || res1 != res2 {
		t.Fatal("both callbacks must receive the same shared resource")
	}
	if got := p.sourceCalls.Load(); got != 1 {
		t.Errorf("source decodes: got %d, want 1", got)
	}

	flush(t, e, func() {
		if res1.refs != 2 {
			t.Errorf("refs: got %d, want 2", res1.refs)
		}
		if len(e.jobs) != 0 {
			t.Errorf("jobs after completion: got %d, want 0", len(e.jobs))
		}
	})
}

// ── Cache tiers ───────────────────────────────────────────────────────────────

func TestEngineReleaseMovesResourceToMemoryCache(t *testing.T) {
	e, mc := newTestEngine(t)
	p := &fakePipeline{}
	key := testKey("img-2")

	cb := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb)
	cb.wait(t)
	res, _ := cb.result()

	e.Release(res)
	flush(t, e, func() {
		if res.refs != 0 {
			t.Errorf("refs after release: got %d, want 0", res.refs)
		}
		if _, ok := e.active[key]; ok {
			t.Error("released resource must leave the active table")
		}
	})
	if mc.len() != 1 {
		t.Fatalf("memory cache entries: got %d, want 1", mc.len())
	}

	// The next load is served from the cache without touching the pipeline.
	cb2 := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: &fakePipeline{}}, cb2)
	cb2.wait(t)
	res2, _ := cb2.result()
	if res2 != res {
		t.Error("cache hit must return the original resource")
	}
	if mc.len() != 0 {
		t.Error("a cache hit removes the entry from the strong tier")
	}
	if got := p.sourceCalls.Load(); got != 1 {
		t.Errorf("source decodes: got %d, want 1", got)
	}
}

func TestEngineActiveTableHit(t *testing.T) {
	e, _ := newTestEngine(t)
	key := testKey("img-3")

	cb1 := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: &fakePipeline{}}, cb1)
	cb1.wait(t)
	res1, _ := cb1.result()

	// res1 is still held, so the second load hits the active table.
	second := &fakePipeline{}
	cb2 := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: second}, cb2)
	cb2.wait(t)
	res2, _ := cb2.result()

	if res2 != res1 {
		t.Error("active hit must return the held resource")
	}
	if second.sourceCalls.Load() != 0 {
		t.Error("active hit must not start a decode")
	}
	flush(t, e, func() {
		if res1.refs != 2 {
			t.Errorf("refs: got %d, want 2", res1.refs)
		}
	})
}

func TestEngineNonCacheableSkipsTiers(t *testing.T) {
	e, mc := newTestEngine(t)
	key := testKey("img-4")
	raw := &fakeResource{size: 64}
	p := &fakePipeline{source: func() (Resource, error) { return raw, nil }}

	cb := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: false, Pipeline: p}, cb)
	cb.wait(t)
	res, _ := cb.result()

	flush(t, e, func() {
		if _, ok := e.active[key]; ok {
			t.Error("non-cacheable resources must not enter the active table")
		}
	})

	e.Release(res)
	flush(t, e, nil)
	if mc.len() != 0 {
		t.Error("non-cacheable resources must not enter the memory cache")
	}
	if !raw.recycled.Load() {
		t.Error("releasing the last ref of a non-cacheable resource recycles it")
	}
}

func TestEngineReleaseMovesToCacheOnlyAtZeroRefs(t *testing.T) {
	e, mc := newTestEngine(t)
	p := &fakePipeline{gate: make(chan struct{})}
	key := testKey("img-10")

	// Two waiters on one job leave the resource at two refs.
	cb1 := newRecordingCallback()
	cb2 := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb1)
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb2)
	close(p.gate)
	cb1.wait(t)
	cb2.wait(t)
	res, _ := cb1.result()

	e.Release(res)
	flush(t, e, func() {
		if res.refs != 1 {
			t.Errorf("refs after first release: got %d, want 1", res.refs)
		}
		if _, ok := e.active[key]; !ok {
			t.Error("a resource with a remaining holder must stay in the active table")
		}
	})
	if mc.len() != 0 {
		t.Fatal("a resource with a remaining holder must not enter the memory cache")
	}

	e.Release(res)
	flush(t, e, func() {
		if res.refs != 0 {
			t.Errorf("refs after final release: got %d, want 0", res.refs)
		}
		if _, ok := e.active[key]; ok {
			t.Error("the final release must clear the active table entry")
		}
	})
	if mc.len() != 1 {
		t.Errorf("memory cache entries: got %d, want 1", mc.len())
	}
}

func TestEngineDuplicateCallbackAttachesOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	p := &fakePipeline{gate: make(chan struct{})}
	key := testKey("img-11")

	cb := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb)
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb)

	close(p.gate)
	cb.wait(t)
	res, _ := cb.result()
	if res == nil {
		t.Fatal("expected a resource")
	}

	flush(t, e, func() {
		if res.refs != 1 {
			t.Errorf("refs: got %d, want 1 (one waiter, one acquire)", res.refs)
		}
	})
	select {
	case <-cb.done:
		t.Error("a twice-attached callback must only be notified once")
	default:
	}
}

// ── Failure and cancellation ──────────────────────────────────────────────────

func TestEngineLoadFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	wantErr := errors.New("decode exploded")
	p := &fakePipeline{source: func() (Resource, error) { return nil, wantErr }}

	cb := newRecordingCallback()
	e.Load(LoadRequest{Key: testKey("img-5"), Cacheable: true, Pipeline: p}, cb)
	cb.wait(t)

	res, err := cb.result()
	if res != nil {
		t.Error("failed load must not deliver a resource")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error: got %v, want %v", err, wantErr)
	}
	flush(t, e, func() {
		if len(e.jobs) != 0 {
			t.Error("failed job must leave the job table")
		}
	})
}

func TestEngineCancelLastCallbackCancelsJob(t *testing.T) {
	e, _ := newTestEngine(t)
	p := &fakePipeline{gate: make(chan struct{})}
	key := testKey("img-6")

	cb := newRecordingCallback()
	status := e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, cb)

	flush(t, e, nil) // the job is registered
	status.Cancel()
	flush(t, e, func() {
		if len(e.jobs) != 0 {
			t.Error("cancelled job must leave the job table")
		}
	})
	if !p.cancelled.Load() {
		t.Error("cancelling the last callback must cancel the pipeline")
	}

	close(p.gate)
	flush(t, e, nil)
	select {
	case <-cb.done:
		t.Error("cancelled load must not fire its callback")
	default:
	}
}

func TestEngineCancelOneOfTwoKeepsJobAlive(t *testing.T) {
	e, _ := newTestEngine(t)
	p := &fakePipeline{gate: make(chan struct{})}
	key := testKey("img-7")

	keep := newRecordingCallback()
	drop := newRecordingCallback()
	e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, keep)
	status := e.Load(LoadRequest{Key: key, Cacheable: true, Pipeline: p}, drop)

	flush(t, e, nil)
	status.Cancel()
	flush(t, e, func() {
		if len(e.jobs) != 1 {
			t.Error("job must keep running for the remaining callback")
		}
	})

	close(p.gate)
	keep.wait(t)
	res, _ := keep.result()
	if res == nil {
		t.Fatal("remaining callback must receive the resource")
	}
	select {
	case <-drop.done:
		t.Error("detached callback must not fire")
	default:
	}
	flush(t, e, func() {
		if res.refs != 1 {
			t.Errorf("refs: got %d, want 1", res.refs)
		}
	})
}

// ── Resource life cycle ───────────────────────────────────────────────────────

func TestSharedResourceReleasePanicsWhenUnacquired(t *testing.T) {
	res := NewSharedResource(&fakeResource{size: 1}, true)
	defer func() {
		if recover() == nil {
			t.Error("release of an unacquired resource must panic")
		}
	}()
	res.release()
}

func TestEngineResultAfterCancelIsRecycled(t *testing.T) {
	e, _ := newTestEngine(t)
	raw := &fakeResource{size: 32}
	p := &fakePipeline{
		gate:    make(chan struct{}),
		started: make(chan struct{}),
		source:  func() (Resource, error) { return raw, nil },
	}

	cb := newRecordingCallback()
	status := e.Load(LoadRequest{Key: testKey("img-8"), Cacheable: true, Pipeline: p}, cb)
	<-p.started // the worker is inside the source phase
	status.Cancel()
	flush(t, e, nil)

	close(p.gate)
	// The worker observes the cancel after decoding and recycles the result.
	deadline := time.Now().Add(5 * time.Second)
	for !raw.recycled.Load() {
		if time.Now().After(deadline) {
			t.Fatal("orphaned result was never recycled")
		}
		time.Sleep(time.Millisecond)
	}
}

// ── Active table sweep ────────────────────────────────────────────────────────

func makeDeadRef() weak.Pointer[SharedResource] {
	res := NewSharedResource(&fakeResource{size: 1}, true)
	return weak.Make(res)
}

func TestEngineSweepDropsDeadActiveEntries(t *testing.T) {
	e, _ := newTestEngine(t)
	key := testKey("img-9")

	ref := makeDeadRef()
	runtime.GC()
	runtime.GC()
	if ref.Value() != nil {
		t.Skip("referent survived GC; cannot exercise the sweep")
	}

	flush(t, e, func() {
		e.active[key] = ref
		e.sweepActive()
		if _, ok := e.active[key]; ok {
			t.Error("sweep must drop entries whose referent is gone")
		}
	})
}
