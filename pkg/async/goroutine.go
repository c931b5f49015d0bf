package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned when submitting to a pool that has shut down
var ErrPoolClosed = errors.New("worker pool shut down")

// ErrPoolFull is returned by TrySubmit when every buffer slot is taken
var ErrPoolFull = errors.New("worker pool queue full")

// SafeGo executes fn in a goroutine with a timeout, panic recovery and error
// logging. Use it instead of a bare go statement.
func SafeGo(parentCtx context.Context, logger logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = logrus.New()
	}

	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// PanicError wraps a value recovered from a panicking task
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Task is a unit of work for a WorkerPool
type Task struct {
	Name string
	Ctx  context.Context
	Run  func(context.Context) error
}

// WorkerPool runs tasks on a fixed number of workers fed by a buffered channel
type WorkerPool struct {
	workers      int
	timeout      time.Duration
	onError      func(Task, error)
	workCh       chan Task
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	closed       bool
	shutdownOnce sync.Once
}

// NewWorkerPool creates and starts a worker pool. onError receives every task
// error and recovered panic; it may be nil.
func NewWorkerPool(ctx context.Context, workers, size int, timeout time.Duration, onError func(Task, error)) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if size < workers {
		size = workers * 2
	}
	if onError == nil {
		onError = func(Task, error) {}
	}

	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers: workers,
		timeout: timeout,
		onError: onError,
		workCh:  make(chan Task, size),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pool.worker()
			}()
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task, blocking while the buffer is full
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues a task without blocking
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Pending returns the number of queued tasks not yet picked up by a worker
func (p *WorkerPool) Pending() int {
	return len(p.workCh)
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks to
// drain. Tasks still running after the timeout see their context cancelled.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker() {
	for task := range p.workCh {
		p.run(task)
	}
}

func (p *WorkerPool) run(task Task) {
	base := task.Ctx
	if base == nil {
		base = context.Background()
	}

	// Tasks outlive the request that queued them, but not the pool.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(base), p.timeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			p.onError(task, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	if err := task.Run(ctx); err != nil {
		p.onError(task, err)
	}
}
