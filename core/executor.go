package core

import (
	"sync"
	"sync/atomic"

	apperrors "github.com/Skryldev/image-loader/errors"
)

// task is a cancellable unit of work queued on an executor.  Cancellation is
// cooperative: a task cancelled before a worker picks it up never runs; a
// running task is responsible for observing its own cancellation signal.
type task struct {
	run       func()
	cancelled atomic.Bool
}

func (t *task) cancel() { t.cancelled.Store(true) }

// executor is a fixed-size worker pool fed by a bounded queue.  The engine
// runs two of them: a single-worker pool for fast local-cache decodes and a
// parallelism-sized pool for slow source fetches, so local work never queues
// behind remote work.
type executor struct {
	name     string
	tasks    chan *task
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

func newExecutor(name string, workers, queueSize int) *executor {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	e := &executor{
		name:     name,
		tasks:    make(chan *task, queueSize),
		shutdown: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// submit enqueues fn and returns its handle.  Returns ErrQueueFull instead of
// blocking so the coordination goroutine can never stall on a full queue.
func (e *executor) submit(fn func()) (*task, error) {
	t := &task{run: fn}
	select {
	case e.tasks <- t:
		return t, nil
	default:
		return nil, apperrors.New(apperrors.CategoryPipeline, e.name+".submit", apperrors.ErrQueueFull)
	}
}

func (e *executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.shutdown:
			return
		case t, ok := <-e.tasks:
			if !ok {
				return
			}
			if !t.cancelled.Load() {
				t.run()
			}
		}
	}
}

// stop shuts down all workers.  Queued tasks that have not started are
// dropped.  Idempotent.
func (e *executor) stop() {
	e.once.Do(func() { close(e.shutdown) })
	e.wg.Wait()
}
