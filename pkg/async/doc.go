// Package async runs background work with panic recovery, timeouts and
// bounded concurrency.
//
// Bookkeeping that must never delay a caller (auth events, session writes)
// goes through a Queue:
//
//	queue := async.NewQueue(ctx, async.QueueConfig{Workers: 4, Size: 256, Timeout: 5 * time.Second}, logger, metrics)
//	defer queue.Close(5 * time.Second)
//
//	queue.Dispatch(ctx, "audit.record", func(ctx context.Context) error {
//		return sink.Write(ctx, event)
//	})
//
// Dispatch never blocks. When the queue is full or closed the task is dropped
// and logged; delivery is at-most-once.
//
// SafeGo covers one-off goroutines that need the same recovery and logging:
//
//	async.SafeGo(ctx, logger, 30*time.Second, "catalog reload", func(ctx context.Context) error {
//		return catalog.Reload(ctx)
//	})
package async
