// Package scheduler implements a small fixed-size goroutine pool.
//
// It provides:
//   - Scheduler: schedule closures on any pool goroutine and wait for idleness
//   - Worker: a sequential queue on top of a Scheduler (strict FIFO)
//
// A pool must not be torn down while tasks are pending; Close waits until
// the pool is idle before stopping its goroutines.
package scheduler
