// Package worker provides a bounded goroutine pool.
//
// The Pool runs a fixed number of worker goroutines that take jobs from a
// shared queue. Each job receives the pool's context so that long-running
// jobs can stop when the pool is cancelled.
//
// # Basic Usage
//
//	pool := worker.NewPool(n)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	for i := range n {
//	    pool.Submit(func(ctx context.Context) {
//	        runSession(ctx, i)
//	    })
//	}
//	pool.Wait()
//
// # Shutdown
//
// Wait blocks until every submitted job has finished. Stop cancels the
// context and waits for running jobs. Jobs still queued at that point are
// run with the cancelled context, so a job accepted by Submit always runs
// once and can report the cancellation itself.
package worker
