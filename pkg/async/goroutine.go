package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a pool that is shutting down
var ErrPoolClosed = errors.New("worker pool shut down")

// ErrQueueFull is returned by TrySubmit when every queue slot is taken
var ErrQueueFull = errors.New("worker pool queue full")

// Task is a unit of background work
type Task func(ctx context.Context) error

// SafeGo runs fn in a goroutine detached from parentCtx's cancellation (but
// keeping its values), bounded by timeout, with panics and errors logged.
//
//	async.SafeGo(r.Context(), 10*time.Second, "send invitation email", func(ctx context.Context) error {
//		return mailer.Send(ctx, msg)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn Task) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logrus.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue
type WorkerPool struct {
	name    string
	timeout time.Duration
	queue   chan Task
	onError func(error)
	log     *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	pending atomic.Int64
}

// PoolOption customises a WorkerPool
type PoolOption func(*WorkerPool)

// WithErrorHandler receives every task error and recovered panic
func WithErrorHandler(fn func(error)) PoolOption {
	return func(p *WorkerPool) { p.onError = fn }
}

// WithLogger replaces the default logrus entry
func WithLogger(entry *logrus.Entry) PoolOption {
	return func(p *WorkerPool) { p.log = entry }
}

// NewWorkerPool starts workers goroutines. Each task gets its own timeout.
//
//	pool := async.NewWorkerPool(ctx, 2, 256, "media processing", 30*time.Minute)
//	defer pool.Shutdown(time.Minute)
func NewWorkerPool(ctx context.Context, workers, queueSize int, name string, timeout time.Duration, opts ...PoolOption) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 2
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		name:    name,
		timeout: timeout,
		queue:   make(chan Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     logrus.WithField("pool", name),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues fn, blocking while the queue is full
func (p *WorkerPool) Submit(ctx context.Context, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- fn:
		p.pending.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit enqueues fn without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- fn:
		p.pending.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued and running tasks
func (p *WorkerPool) Pending() int64 {
	return p.pending.Load()
}

// Shutdown stops accepting work, lets queued tasks drain, and cancels running
// tasks when timeout elapses first.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		<-done
		return fmt.Errorf("worker pool %s shutdown timed out after %v", p.name, timeout)
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for fn := range p.queue {
		p.run(id, fn)
		p.pending.Add(-1)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	ctx := p.ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("panic in worker")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.log.WithField("worker", id).WithError(err).Debug("task failed")
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
