// Package queue runs tasks in submission order with a bounded number of
// tasks in flight. Record fetches share one Queue so that a burst of cache
// misses never opens more than a handful of connections at once.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the number of tasks allowed in flight.
const DefaultConcurrency = 8

// ErrClosed is returned when submitting to a closed queue.
var ErrClosed = errors.New("queue: closed")

// Task is a unit of work. The context is the one given at submission.
type Task func(ctx context.Context)

type job struct {
	ctx context.Context
	run Task
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the number of tasks allowed in flight. Values below 1
// are ignored.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithLogger sets the logger used for task diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// Queue is a FIFO of tasks drained by a dispatcher goroutine. Tasks start in
// the order they were pushed; at most the configured concurrency run at once.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	closed  bool

	concurrency int
	sem         *semaphore.Weighted
	running     atomic.Int64
	wg          sync.WaitGroup
	done        chan struct{}
	logger      *slog.Logger
}

// New starts a Queue and its dispatcher.
func New(opts ...Option) *Queue {
	q := &Queue{
		concurrency: DefaultConcurrency,
		done:        make(chan struct{}),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	q.sem = semaphore.NewWeighted(int64(q.concurrency))
	go q.dispatch()
	return q
}

// Push enqueues fn without waiting for it. A task whose context is done by
// the time it is admitted is dropped.
func (q *Queue) Push(ctx context.Context, fn Task) error {
	if fn == nil {
		return errors.New("queue: task is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, job{ctx: ctx, run: fn})
	q.cond.Signal()
	return nil
}

// Run enqueues fn and waits for its result. When ctx is done before fn
// completes, Run returns ctx.Err(); a task that has not started by then is
// skipped.
func (q *Queue) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("queue: task is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	result := make(chan error, 1)
	err := q.Push(ctx, func(ctx context.Context) {
		result <- fn(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of tasks waiting to start.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running reports the number of tasks in flight.
func (q *Queue) Running() int {
	return int(q.running.Load())
}

// Concurrency reports the in-flight limit.
func (q *Queue) Concurrency() int {
	return q.concurrency
}

// Close stops accepting tasks, lets already queued tasks run and waits for
// all of them to finish.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
	q.wg.Wait()
	return nil
}

func (q *Queue) next() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 {
		if q.closed {
			return job{}, false
		}
		q.cond.Wait()
	}
	j := q.pending[0]
	q.pending[0] = job{}
	q.pending = q.pending[1:]
	return j, true
}

func (q *Queue) dispatch() {
	defer close(q.done)
	for {
		// A slot is taken before popping so waiting tasks stay counted in
		// Len. Acquire with Background never fails.
		_ = q.sem.Acquire(context.Background(), 1)
		j, ok := q.next()
		if !ok {
			q.sem.Release(1)
			return
		}
		q.wg.Add(1)
		q.running.Add(1)
		go q.execute(j)
	}
}

func (q *Queue) execute(j job) {
	defer q.wg.Done()
	defer q.sem.Release(1)
	defer q.running.Add(-1)
	if err := j.ctx.Err(); err != nil {
		q.logger.DebugContext(j.ctx, "queue: skipping cancelled task", "error", err)
		return
	}
	j.run(j.ctx)
}
