// Package core implements the load engine: request deduplication, the tiered
// memory cache lookup, per-key job tracking, and shared-resource life cycle.
package core

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/eapache/queue"
)

// Tier names used for metrics.
const (
	tierMemory = "memory"
	tierActive = "active"
)

// LoadRequest carries everything the engine needs to start (or join) a load.
// The pipeline is built per-request by the caller; the engine only drives it.
type LoadRequest struct {
	Key       Key
	Cacheable bool
	Pipeline  DecodePipeline
}

// LoadStatus lets a caller indicate it is no longer interested in a load.
// Cancelling detaches only this caller; the underlying job keeps running as
// long as other callers wait on it.
type LoadStatus struct {
	engine *Engine
	cb     ResourceCallback
	job    *job // owned by the coordination goroutine
}

// Cancel detaches the callback.  Safe to call from any goroutine, at any
// time; a cancel that races with completion is simply ignored.
func (s *LoadStatus) Cancel() {
	s.engine.post(msgCancel{status: s})
}

// Engine coordinates loads: it deduplicates concurrent requests per key,
// serves the tiered memory caches, and routes completed resources between
// the active table, the strong cache, and recycling.
//
// All mutation of the job table, active table, and resource reference counts
// happens on one coordination goroutine.  Workers and callers communicate
// with it exclusively through the message mailbox; no locks guard the tables.
type Engine struct {
	jobs   map[Key]*job
	active map[Key]weak.Pointer[SharedResource]

	memCache MemoryCache

	cacheExec  *executor
	sourceExec *executor

	mu     sync.Mutex
	mail   *queue.Queue
	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	recycling bool

	sweepInterval time.Duration
	logger        Logger
	metrics       MetricsCollector
}

// EngineConfig wires an Engine.  MemoryCache is required; everything else
// defaults sensibly.
type EngineConfig struct {
	MemoryCache   MemoryCache
	SourceWorkers int           // default runtime.NumCPU()
	QueueSize     int           // default 256
	SweepInterval time.Duration // default 1s
	Logger        Logger
	Metrics       MetricsCollector
}

// NewEngine starts the coordination goroutine and both worker pools.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.SourceWorkers <= 0 {
		cfg.SourceWorkers = runtime.NumCPU()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}

	e := &Engine{
		jobs:          make(map[Key]*job),
		active:        make(map[Key]weak.Pointer[SharedResource]),
		memCache:      cfg.MemoryCache,
		cacheExec:     newExecutor("cache", 1, cfg.QueueSize),
		sourceExec:    newExecutor("source", cfg.SourceWorkers, cfg.QueueSize),
		mail:          queue.New(),
		notify:        make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		sweepInterval: cfg.SweepInterval,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
	e.memCache.SetEvictionHandler(func(res *SharedResource) {
		e.recycleResource(res)
	})
	go e.run()
	return e
}

// Load starts or joins a load for req.Key.  Never blocks: the lookup runs on
// the coordination goroutine and the callback fires from there, either with a
// cached resource or with the job's eventual outcome.
func (e *Engine) Load(req LoadRequest, cb ResourceCallback) *LoadStatus {
	st := &LoadStatus{engine: e, cb: cb}
	e.post(msgLoad{req: req, cb: cb, status: st})
	return st
}

// Release returns a resource obtained through a callback.  When the last
// holder releases, the engine moves the resource to the strong cache or
// recycles it.
func (e *Engine) Release(res *SharedResource) {
	e.post(msgRelease{res: res})
}

// TrimMemory applies a host memory-pressure signal to the strong cache.
func (e *Engine) TrimMemory(level TrimLevel) {
	e.post(msgTrim{level: level})
}

// ClearMemory drops every entry from the strong cache.
func (e *Engine) ClearMemory() {
	e.post(msgTrim{level: TrimLevelModerate})
}

// Close stops the coordination goroutine and both worker pools.  In-flight
// work is cancelled cooperatively; callbacks for unfinished loads never fire.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	close(e.stop)
	<-e.done
	e.cacheExec.stop()
	e.sourceExec.stop()
}

// ── mailbox ───────────────────────────────────────────────────────────────────

type msgLoad struct {
	req    LoadRequest
	cb     ResourceCallback
	status *LoadStatus
}

type msgCancel struct{ status *LoadStatus }

type msgRelease struct{ res *SharedResource }

type msgJobComplete struct {
	job *job
	res Resource
}

type msgJobFailed struct {
	job *job
	err error
}

type msgRecycle struct{ res *SharedResource }

type msgTrim struct{ level TrimLevel }

// msgFunc runs an arbitrary closure on the coordination goroutine.
type msgFunc struct{ fn func() }

// post enqueues a message for the coordination goroutine.  Messages posted
// after Close are dropped.
func (e *Engine) post(m any) {
	if e.closed.Load() {
		return
	}
	e.mu.Lock()
	e.mail.Add(m)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Engine) take() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mail.Length() == 0 {
		return nil, false
	}
	return e.mail.Remove(), true
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		if m, ok := e.take(); ok {
			e.dispatch(m)
			continue
		}
		// Mailbox drained: the context is idle.  Sleep until new work or
		// the sweep interval elapses.
		select {
		case <-e.stop:
			return
		case <-e.notify:
		case <-time.After(e.sweepInterval):
			e.sweepActive()
		}
	}
}

func (e *Engine) dispatch(m any) {
	switch msg := m.(type) {
	case msgLoad:
		e.handleLoad(msg)
	case msgCancel:
		if msg.status.job != nil {
			msg.status.job.removeCallback(msg.status.cb)
		}
	case msgRelease:
		msg.res.release()
	case msgJobComplete:
		msg.job.handleComplete(msg.res)
	case msgJobFailed:
		msg.job.handleFailure(msg.err)
	case msgRecycle:
		e.recycleResource(msg.res)
	case msgTrim:
		e.memCache.Trim(msg.level)
	case msgFunc:
		msg.fn()
	}
}

// ── lookup and life-cycle handling (coordination goroutine only) ──────────────

// handleLoad walks the lookup tiers in order; the first hit wins and no job
// is created.  Otherwise the caller joins the in-flight job for the key, or a
// new one is started.
func (e *Engine) handleLoad(m msgLoad) {
	key := m.req.Key

	if m.req.Cacheable {
		if res, ok := e.memCache.Remove(key); ok {
			// Promote from the strong cache back into active use.
			res.acquire()
			e.active[key] = weak.Make(res)
			e.metrics.RecordHit(tierMemory)
			m.cb.OnResourceReady(res)
			return
		}
		if ref, ok := e.active[key]; ok {
			if res := ref.Value(); res != nil {
				res.acquire()
				e.metrics.RecordHit(tierActive)
				m.cb.OnResourceReady(res)
				return
			}
			// The referent is gone; the entry is stale.
			delete(e.active, key)
		}
	}
	e.metrics.RecordMiss(tierMemory)

	if current, ok := e.jobs[key]; ok {
		current.addCallback(m.cb)
		m.status.job = current
		e.logger.Debug("engine.load.joined", "key", key.String())
		return
	}

	j := newJob(key, m.req.Cacheable, m.req.Pipeline, e, e.post,
		e.cacheExec, e.sourceExec, e.logger)
	e.jobs[key] = j
	j.addCallback(m.cb)
	m.status.job = j
	j.start()
	e.logger.Debug("engine.load.started", "key", key.String())
}

// onJobComplete implements jobListener.  A nil resource indicates failure.
func (e *Engine) onJobComplete(key Key, res *SharedResource) {
	if res != nil {
		res.setListener(key, e)
		if res.Cacheable() {
			e.active[key] = weak.Make(res)
		}
	}
	delete(e.jobs, key)
}

// onJobCancelled implements jobListener.  The job is removed only while it is
// still the tracked job for its key; a newer job may have superseded it.
func (e *Engine) onJobCancelled(j *job, key Key) {
	if current, ok := e.jobs[key]; ok && current == j {
		delete(e.jobs, key)
	}
}

// onResourceReleased implements resourceListener: the reference count reached
// zero, so exactly one of {strong cache, recycle} takes ownership now.
func (e *Engine) onResourceReleased(key Key, res *SharedResource) {
	delete(e.active, key)
	if res.Cacheable() {
		e.memCache.Put(key, res)
	} else {
		e.recycleResource(res)
	}
}

// recycleResource recycles safely even when recycling a resource triggers
// another recycle (a cache eviction during a Put, for instance): the nested
// request is deferred through the mailbox instead of recursing.
func (e *Engine) recycleResource(res *SharedResource) {
	if e.recycling {
		e.post(msgRecycle{res: res})
		return
	}
	e.recycling = true
	res.recycle()
	e.recycling = false
}

// sweepActive removes active-table entries whose referent has been collected.
// Runs only when the mailbox is idle; never blocks Load.
func (e *Engine) sweepActive() {
	for key, ref := range e.active {
		if ref.Value() == nil {
			delete(e.active, key)
		}
	}
}
