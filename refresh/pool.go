// Package refresh implements the bounded background worker pool that
// drives stale-while-revalidate refreshes. It is adapted from the
// corpus's warming worker pool (fixed goroutine pool draining a buffered
// task channel), simplified to match spec.md's RefreshExecutor contract
// exactly: submission never blocks, and an overflowing queue drops the
// task rather than retrying it — spec.md treats a dropped SWR refresh as
// safe because the next request for the same key retries the dispatch.
package refresh

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pool is a fixed-size pool of worker goroutines consuming Task closures
// from a bounded queue.
type Pool struct {
	tasks     chan func()
	limiter   *rate.Limiter
	logger    *zap.Logger
	wg        sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
	queueSize int
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithQueueSize overrides the default queue capacity (64).
func WithQueueSize(n int) Option {
	return func(p *Pool) { p.queueSize = n }
}

// WithRateLimit bounds the rate at which dispatched tasks are allowed to
// start, on top of whatever pool-size parallelism already limits — an
// additional knob against avalanche beyond the logical lock alone. A nil
// limiter (the default) leaves dispatch unlimited, matching spec.md's
// RefreshExecutor exactly.
func WithRateLimit(l *rate.Limiter) Option {
	return func(p *Pool) { p.limiter = l }
}

// WithLogger attaches a structured logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New starts a pool of the given fixed worker count. Workers run until
// Shutdown is called.
func New(workers int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		queueSize: 64,
		logger:    zap.NewNop(),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tasks = make(chan func(), p.queueSize)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case task := <-p.tasks:
					if p.limiter != nil {
						_ = p.limiter.Wait(context.Background())
					}
					task()
				default:
					return
				}
			}
		case task := <-p.tasks:
			if p.limiter != nil {
				_ = p.limiter.Wait(context.Background())
			}
			task()
		}
	}
}

// Submit enqueues task without blocking and reports whether it was
// accepted. If the queue is full the task is dropped and logged at debug
// level; the caller is never blocked.
func (p *Pool) Submit(task func()) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		p.logger.Debug("refresh task dropped: queue full")
		return false
	}
}

// QueueLen reports how many tasks are currently queued (not yet picked up
// by a worker). Useful for diagnostics and tests.
func (p *Pool) QueueLen() int {
	return len(p.tasks)
}

// Shutdown signals the workers to stop and waits for them: each worker
// finishes its in-flight task, then runs the tasks still queued until
// the queue is empty, then exits.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}
