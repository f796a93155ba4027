// Package workqueue implements the unbounded MPSC work queue (spec.md
// §4.6 C6): any number of producers Add tasks, a single consumer goroutine
// drains them FIFO. Grounded on the teacher's
// internal/architecture/fx/workerpool/worker_pool.go for the
// panic-isolated task-execution wrapper and metrics naming/shape; the
// teacher's pool is a bounded-worker, ants-backed executor, so the FIFO
// single-consumer draining loop itself is stdlib (sync.Mutex+sync.Cond)
// rather than adapted from ants, which has no unbounded MPSC/pause
// contract to borrow.
package workqueue

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Add once Stop has marked the queue closed to
// further writes.
var ErrStopped = errors.New("workqueue: queue stopped")

// drainGrace bounds how long Stop waits for the consumer to finish
// whatever is left in the queue before giving up and discarding the
// remainder (spec.md §4.6 "Stop").
const drainGrace = 2 * time.Second

// Queue is an unbounded MPSC FIFO queue with a single consumer goroutine.
type Queue struct {
	name      string
	warnDepth int
	logger    *zap.Logger
	metrics   *Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []func()
	paused   bool
	stopped  bool
	overWarn bool // edge-triggered backpressure state, guards log/metric spam

	done chan struct{}
}

// New creates a Queue and starts its consumer goroutine. name identifies
// the queue in logs and metrics; warnDepth is the depth above which Add
// logs and records backpressure (spec.md "Backpressure signaling").
// metrics may be nil.
func New(name string, warnDepth int, logger *zap.Logger, metrics *Metrics) *Queue {
	if warnDepth <= 0 {
		warnDepth = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		name:      name,
		warnDepth: warnDepth,
		logger:    logger,
		metrics:   metrics,
		done:      make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Add enqueues task for the consumer to run FIFO. Items keep enqueuing
// while the queue is paused; Add only fails once Stop has been called.
func (q *Queue) Add(task func()) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.RecordRejection(q.name)
		}
		return ErrStopped
	}
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	q.checkBackpressure(depth)
	q.cond.Signal()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.SetDepth(q.name, depth)
	}
	return nil
}

// checkBackpressure must be called with q.mu held.
func (q *Queue) checkBackpressure(depth int) {
	switch {
	case depth >= q.warnDepth && !q.overWarn:
		q.overWarn = true
		q.logger.Warn("workqueue: depth above warning threshold",
			zap.String("queue", q.name), zap.Int("depth", depth), zap.Int("threshold", q.warnDepth))
		if q.metrics != nil {
			q.metrics.RecordBackpressure(q.name)
		}
	case depth < q.warnDepth && q.overWarn:
		q.overWarn = false
		q.logger.Info("workqueue: depth back under warning threshold",
			zap.String("queue", q.name), zap.Int("depth", depth))
	}
}

// Pause stops the consumer from invoking the handler; items keep
// enqueuing via Add.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume drains at full rate again.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.cond.Signal()
	q.mu.Unlock()
}

// Clear discards every item not yet handed to the consumer. A task
// already in flight still runs to completion.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tasks = nil
	q.overWarn = false
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.SetDepth(q.name, 0)
	}
}

// Stop marks the queue closed to further Add calls, wakes the consumer,
// and waits up to drainGrace for it to finish whatever remains. Past the
// deadline Stop discards the remainder itself and returns; Stop is safe to
// call more than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-time.After(drainGrace):
		q.logger.Warn("workqueue: drain grace period exceeded, discarding remainder",
			zap.String("queue", q.name))
		q.mu.Lock()
		q.tasks = nil
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// Depth returns the number of items currently waiting to run.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.stopped && (q.paused || len(q.tasks) == 0) {
			q.cond.Wait()
		}
		if q.stopped && len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		depth := len(q.tasks)
		q.checkBackpressure(depth)
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.SetDepth(q.name, depth)
		}
		q.execute(task)
	}
}

// execute runs task with the panic isolation the teacher's worker pool
// applies to every submitted task, recording the outcome instead of
// letting a single bad task take down the consumer goroutine.
func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("workqueue: task panicked",
				zap.String("queue", q.name), zap.Any("panic", r))
			if q.metrics != nil {
				q.metrics.RecordPanic(q.name)
				q.metrics.RecordExecution(q.name, false)
			}
			return
		}
		if q.metrics != nil {
			q.metrics.RecordExecution(q.name, true)
		}
	}()
	task()
}
