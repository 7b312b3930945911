// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane start in FIFO order, at most lane-concurrency at a time.
// - Tasks in different lanes may execute concurrently.
// - Submitted tasks are never awaited; their outcome is logged and dropped.
// - After Close, no task starts, queued tasks are dropped and Submit returns ErrClosed.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.WithLaneConcurrency(commandqueue.LaneBranch, 4))
//	defer queue.Close()
//	_, _ = queue.Submit(ctx, commandqueue.LaneBranch, func(ctx context.Context) (interface{}, error) {
//		return nil, nil
//	})
package commandqueue
