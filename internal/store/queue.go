package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/statekeeper/internal/value"
)

// Pending is the handle of an asynchronous dispatch.
type Pending struct {
	done   chan struct{}
	result value.Value
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) complete(result value.Value, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// Done is closed once the dispatch has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the dispatch settles or ctx is done. Cancelling ctx
// only stops the wait; the dispatch itself still runs.
func (p *Pending) Wait(ctx context.Context) (value.Value, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.result, p.err
	}
}

// DispatchAsync queues the action name and returns immediately.
//
// Queued dispatches run one at a time in FIFO order on a single worker
// goroutine, each as a regular Dispatch. A second dispatch started before
// the first settles therefore observes the first one's committed result.
// After Close the returned Pending fails with ErrClosed.
func (s *Store) DispatchAsync(ctx context.Context, name string, args ...value.Value) *Pending {
	if ctx == nil {
		ctx = context.Background()
	}
	p := newPending()
	s.queue.start(s.drain)
	j := job{ctx: ctx, name: name, args: cloneArgs(args), pending: p}
	if !s.queue.Enqueue(j) {
		p.complete(nil, ErrClosed)
	}
	return p
}

// Queued returns the number of asynchronous dispatches waiting to run.
func (s *Store) Queued() int {
	return s.queue.Len()
}

// drain runs queued dispatches until the queue is closed and empty.
func (s *Store) drain() {
	for {
		if j, ok := s.queue.TryDequeue(); ok {
			s.runJob(j)
			continue
		}
		<-s.queue.Wait()
		if s.queue.Closed() && s.queue.Len() == 0 {
			s.logger.Debug("async dispatch queue stopped")
			return
		}
	}
}

func (s *Store) runJob(j job) {
	var (
		res value.Value
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action %q panicked: %v", j.name, r)
			}
		}()
		res, err = s.Dispatch(j.ctx, j.name, j.args...)
	}()
	j.pending.complete(res, err)
}

type job struct {
	ctx     context.Context
	name    string
	args    []value.Value
	pending *Pending
}

// actionQueue is a thread-safe unbounded FIFO queue of async dispatches.
//
// The queue uses a buffered channel of size 1 for signaling, which
// coalesces wakeups; the worker always drains with TryDequeue before
// waiting again.
type actionQueue struct {
	mu      sync.Mutex
	jobs    []job
	closed  bool
	signal  chan struct{}
	once    sync.Once
	started bool
	stopped chan struct{}
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		jobs:    make([]job, 0, 16),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Enqueue adds j to the back of the queue.
// Returns false if the queue is closed.
func (q *actionQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *actionQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]
	// Clear the slot so the backing array does not retain the job.
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that signals when jobs may be available.
// It is closed by Close.
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting jobs and wakes the worker.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// start launches the worker once.
func (q *actionQueue) start(worker func()) {
	q.once.Do(func() {
		q.mu.Lock()
		q.started = true
		q.mu.Unlock()
		go func() {
			defer close(q.stopped)
			worker()
		}()
	})
}

// wait blocks until the worker has exited. Returns at once if it never started.
func (q *actionQueue) wait() {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if started {
		<-q.stopped
	}
}
