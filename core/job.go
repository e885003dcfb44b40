package core

import (
	"sync/atomic"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// jobState is the explicit life cycle of a load job.  There is no transition
// out of a terminal state.
type jobState int

const (
	jobPending jobState = iota
	jobRunning
	jobComplete
	jobFailed
	jobCancelled
)

func (s jobState) terminal() bool { return s >= jobComplete }

// jobStage tracks which decode phase the worker-side runner is in.
type jobStage int

const (
	stageCache jobStage = iota
	stageSource
)

// jobListener receives job life-cycle events on the coordination goroutine.
// The engine is the only production listener.
type jobListener interface {
	onJobComplete(key Key, res *SharedResource)
	onJobCancelled(j *job, key Key)
}

// job is the per-key unit of in-flight work.  It owns the ordered list of
// waiting callbacks and fans out the single terminal outcome exactly once.
//
// Field discipline: cbs, ignored, state, resource and err are owned by the
// coordination goroutine.  stage is only touched by the worker running the
// current phase (phase hand-off happens through the executor queue, which
// orders the accesses).  cancelled is the one flag read across goroutines.
type job struct {
	key       Key
	cacheable bool
	pipeline  DecodePipeline

	listener jobListener
	post     func(m any)

	cacheExec  *executor
	sourceExec *executor
	logger     Logger

	cbs     []ResourceCallback
	ignored map[ResourceCallback]struct{}

	state    jobState
	stage    jobStage
	resource *SharedResource
	err      error

	// future is written by whichever goroutine performed the latest submit
	// (loop for phase 1, worker for the phase-2 hand-off) and read by
	// cancel on the loop, hence the atomic.
	future    atomic.Pointer[task]
	cancelled atomic.Bool
}

func newJob(key Key, cacheable bool, p DecodePipeline, listener jobListener,
	post func(m any), cacheExec, sourceExec *executor, logger Logger) *job {
	return &job{
		key:        key,
		cacheable:  cacheable,
		pipeline:   p,
		listener:   listener,
		post:       post,
		cacheExec:  cacheExec,
		sourceExec: sourceExec,
		logger:     logger,
	}
}

// addCallback attaches a waiter.  If the job already finished, the outcome is
// delivered immediately; a late success delivery acquires the resource on the
// caller's behalf like any other.  Attaching a callback that is already
// waiting is a no-op: a waiter gets the outcome, and its acquire, exactly
// once.
func (j *job) addCallback(cb ResourceCallback) {
	switch j.state {
	case jobComplete:
		j.resource.acquire()
		cb.OnResourceReady(j.resource)
	case jobFailed:
		cb.OnLoadFailed(j.err)
	default:
		for _, c := range j.cbs {
			if c == cb {
				return
			}
		}
		j.cbs = append(j.cbs, cb)
	}
}

// removeCallback detaches a waiter.  During fan-out the callback list cannot
// be mutated, so callbacks removed after a terminal state are recorded as
// ignored and skipped.  Removing the last waiter of a running job cancels it.
func (j *job) removeCallback(cb ResourceCallback) {
	if j.state.terminal() {
		if j.ignored == nil {
			j.ignored = make(map[ResourceCallback]struct{})
		}
		j.ignored[cb] = struct{}{}
		return
	}
	for i, c := range j.cbs {
		if c == cb {
			j.cbs = append(j.cbs[:i], j.cbs[i+1:]...)
			break
		}
	}
	if len(j.cbs) == 0 {
		j.cancel()
	}
}

func (j *job) isIgnored(cb ResourceCallback) bool {
	_, ok := j.ignored[cb]
	return ok
}

// start submits the cache phase.  The cache executor is serialized so that
// local-cache hits are never stuck behind slow source fetches.
func (j *job) start() {
	j.state = jobRunning
	j.stage = stageCache
	t, err := j.cacheExec.submit(j.run)
	if err != nil {
		j.handleFailure(err)
		return
	}
	j.future.Store(t)
}

// cancel transitions to CANCELLED and aborts in-flight work.  Results that
// materialize after this point are recycled by the runner, never delivered.
func (j *job) cancel() {
	if j.state.terminal() {
		return
	}
	j.cancelled.Store(true)
	j.pipeline.Cancel()
	if t := j.future.Load(); t != nil {
		t.cancel()
	}
	j.state = jobCancelled
	j.listener.onJobCancelled(j, j.key)
}

// run executes the current phase on a worker goroutine and posts the outcome
// back to the coordination goroutine.  A failed cache phase is not an error:
// it re-submits the job to the source executor.
func (j *job) run() {
	if j.cancelled.Load() {
		return
	}

	var (
		res Resource
		err error
	)
	if j.stage == stageCache {
		res, err = j.decodeFromCache()
	} else {
		res, err = j.pipeline.DecodeFromSource()
	}

	if j.cancelled.Load() {
		// The job was cancelled while we were decoding; nobody can own
		// this resource any more.
		if res != nil {
			res.Recycle()
		}
		return
	}

	if res != nil {
		j.post(msgJobComplete{job: j, res: res})
		return
	}
	if j.stage == stageCache {
		j.stage = stageSource
		t, serr := j.sourceExec.submit(j.run)
		if serr != nil {
			j.post(msgJobFailed{job: j, err: serr})
			return
		}
		j.future.Store(t)
		return
	}
	if err == nil {
		err = apperrors.New(apperrors.CategoryDecode, "job.source", apperrors.ErrEmptySource)
	}
	j.post(msgJobFailed{job: j, err: err})
}

// decodeFromCache tries the transformed result first, then raw source data.
// Errors here only demote us to the next attempt; the source phase is the
// one that surfaces failures.
func (j *job) decodeFromCache() (Resource, error) {
	res, err := j.pipeline.DecodeResultFromCache()
	if err != nil {
		j.logger.Debug("engine.job.result_cache_miss", "key", j.key.String(), "error", err.Error())
	}
	if res == nil {
		res, err = j.pipeline.DecodeSourceFromCache()
		if err != nil {
			j.logger.Debug("engine.job.source_cache_miss", "key", j.key.String(), "error", err.Error())
		}
	}
	return res, nil
}

// handleComplete runs on the coordination goroutine.  It wraps the raw result,
// publishes it to the engine, and fans out to every non-ignored waiter.  The
// protective acquire keeps the resource alive even if a callback releases it
// synchronously mid-notification.
func (j *job) handleComplete(raw Resource) {
	if j.state == jobCancelled {
		raw.Recycle()
		return
	}
	if len(j.cbs) == 0 {
		// Cancellation empties the list before reaching a terminal state,
		// so a result with no waiters is a bug; contain it.
		j.logger.Warn("engine.job.orphan_result", "key", j.key.String())
		raw.Recycle()
		return
	}

	j.resource = NewSharedResource(raw, j.cacheable)
	j.state = jobComplete

	j.resource.acquire()
	j.listener.onJobComplete(j.key, j.resource)
	for _, cb := range j.cbs {
		if j.isIgnored(cb) {
			continue
		}
		j.resource.acquire()
		cb.OnResourceReady(j.resource)
	}
	j.resource.release()
}

// handleFailure runs on the coordination goroutine.
func (j *job) handleFailure(err error) {
	if j.state == jobCancelled {
		return
	}
	j.err = err
	j.state = jobFailed

	j.listener.onJobComplete(j.key, nil)
	for _, cb := range j.cbs {
		if j.isIgnored(cb) {
			continue
		}
		cb.OnLoadFailed(err)
	}
}
