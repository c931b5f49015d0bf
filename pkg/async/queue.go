package async

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/observability"
)

// Dispatcher accepts fire-and-forget work
type Dispatcher interface {
	Dispatch(ctx context.Context, task string, fn func(context.Context) error)
}

// QueueConfig sizes a Queue
type QueueConfig struct {
	Workers int
	Size    int
	Timeout time.Duration
}

// DefaultQueueConfig returns the sizing used when nothing is configured
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers: 4,
		Size:    256,
		Timeout: 10 * time.Second,
	}
}

// Queue is a Dispatcher backed by a WorkerPool
type Queue struct {
	pool    *WorkerPool
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewQueue creates and starts a dispatch queue
func NewQueue(ctx context.Context, cfg QueueConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Queue {
	defaults := DefaultQueueConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = logrus.New()
	}

	q := &Queue{
		logger:  logger,
		metrics: metrics,
	}
	q.pool = NewWorkerPool(ctx, cfg.Workers, cfg.Size, cfg.Timeout, q.reportFailure)
	return q
}

// Dispatch queues fn and returns immediately. ctx supplies values only; its
// cancellation does not reach the task.
func (q *Queue) Dispatch(ctx context.Context, task string, fn func(context.Context) error) {
	err := q.pool.TrySubmit(Task{Name: task, Ctx: ctx, Run: fn})
	if err == nil {
		return
	}

	q.metrics.DispatchDropped(task)
	entry := q.logger.WithError(err).WithField("task", task)
	if errors.Is(err, ErrPoolFull) {
		entry = entry.WithField("pending", q.pool.Pending())
	}
	entry.Warn("background task dropped")
}

// Close drains queued tasks, waiting at most timeout
func (q *Queue) Close(timeout time.Duration) error {
	return q.pool.Shutdown(timeout)
}

func (q *Queue) reportFailure(task Task, err error) {
	q.metrics.DispatchFailed(task.Name)

	entry := q.logger.WithField("task", task.Name)
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		entry.WithFields(logrus.Fields{
			"panic": panicErr.Value,
			"stack": string(panicErr.Stack),
		}).Error("panic in background task")
		return
	}
	entry.WithError(err).Warn("background task failed")
}

// Inline runs tasks synchronously on the caller's goroutine. Tests and
// one-shot tools use it when ordering matters more than latency.
type Inline struct {
	Logger logrus.FieldLogger
}

// Dispatch runs fn immediately, logging any error or panic
func (d Inline) Dispatch(ctx context.Context, task string, fn func(context.Context) error) {
	logger := d.Logger
	if logger == nil {
		logger = logrus.New()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{"task": task, "panic": r}).Error("panic in background task")
		}
	}()

	if err := fn(context.WithoutCancel(ctx)); err != nil {
		logger.WithError(err).WithField("task", task).Warn("background task failed")
	}
}
