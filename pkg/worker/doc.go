// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// A Pool runs a fixed number of goroutines that consume work items from two bounded
// lanes. Utility work is always taken first; background work runs only when no
// utility work is waiting. Detached maintenance tasks use the background lane so
// they never delay work a caller is waiting on.
//
//	pool := worker.NewPool[Task](4, 256, func(ctx context.Context, task Task) error {
//		return task.Run(ctx)
//	})
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(5 * time.Second)
//
//	err := pool.SubmitWithPriority(task, worker.PriorityBackground)
//	if errors.Is(err, worker.ErrQueueFull) {
//		// lane is saturated
//	}
//
// # Submission
//
// Submit and SubmitWithPriority never block. A full lane returns ErrQueueFull, which
// also matches the shared errors.ErrQueueFull sentinel and classifies as transient.
//
// # Shutdown
//
// Stop(timeout) closes both lanes, lets workers drain what is already queued, and
// returns ErrStopTimeout if they do not finish in time. Cancelling the context passed
// to Start stops workers without draining.
//
// # Observability
//
// Statistics are always tracked with atomic counters and returned by Stats().
// WithMetricsRegistry additionally exports per-lane Prometheus metrics.
package worker
