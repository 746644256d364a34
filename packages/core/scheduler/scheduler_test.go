package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadPool_RunsAllTasks(t *testing.T) {
	pool := NewThreadPool(4)
	defer pool.Close()

	var count atomic.Int32
	for i := 0; i < 100; i++ {
		pool.Schedule(func() {
			count.Add(1)
		})
	}
	pool.WaitUntilIdle()

	assert.Equal(t, int32(100), count.Load())
}

func TestThreadPool_NonPositiveSize(t *testing.T) {
	pool := NewThreadPool(0)
	defer pool.Close()

	assert.Equal(t, 1, pool.Threads())
}

func TestThreadPool_WaitUntilIdleWaitsForRunningTask(t *testing.T) {
	pool := NewThreadPool(1)
	defer pool.Close()

	var done atomic.Bool
	pool.Schedule(func() {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	})
	pool.WaitUntilIdle()

	assert.True(t, done.Load())
}

func TestThreadPool_SizeOneIsSequential(t *testing.T) {
	pool := NewThreadPool(1)
	defer pool.Close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		pool.Schedule(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	pool.WaitUntilIdle()

	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestThreadPool_RecoversPanics(t *testing.T) {
	pool := NewThreadPool(1)
	defer pool.Close()

	var ran atomic.Bool
	pool.Schedule(func() {
		panic("boom")
	})
	pool.Schedule(func() {
		ran.Store(true)
	})
	pool.WaitUntilIdle()

	assert.True(t, ran.Load())
}

type fatalUsage struct{}

func (fatalUsage) Fatal() bool { return true }

func TestThreadPool_RepanicsFatalUsage(t *testing.T) {
	pool := NewThreadPool(1)
	defer pool.Close()

	// Called directly: on a pool goroutine the re-panic ends the process.
	assert.PanicsWithValue(t, fatalUsage{}, func() {
		pool.run(func() { panic(fatalUsage{}) })
	})
	assert.NotPanics(t, func() {
		pool.run(func() { panic("boom") })
	})

	w := &worker{scheduler: pool}
	assert.PanicsWithValue(t, fatalUsage{}, func() {
		w.runOne(func() { panic(fatalUsage{}) })
	})
}

func TestIsFatal(t *testing.T) {
	assert.True(t, isFatal(fatalUsage{}))
	assert.False(t, isFatal("boom"))
	assert.False(t, isFatal(errors.New("boom")))
}

func TestThreadPool_CloseWaitsForPendingTasks(t *testing.T) {
	pool := NewThreadPool(2)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		pool.Schedule(func() {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
		})
	}
	pool.Close()

	assert.Equal(t, int32(10), count.Load())
}

func TestThreadPool_CloseIsIdempotent(t *testing.T) {
	pool := NewThreadPool(2)
	pool.Close()

	assert.NotPanics(t, func() {
		pool.Close()
	})
}

func TestThreadPool_ScheduleAfterClosePanics(t *testing.T) {
	pool := NewThreadPool(1)
	pool.Close()

	assert.Panics(t, func() {
		pool.Schedule(func() {})
	})
}

func TestWorker_PreservesOrder(t *testing.T) {
	pool := NewThreadPool(8)
	defer pool.Close()

	worker := pool.CreateWorker()

	var mu sync.Mutex
	var order []int
	var concurrent, maxConcurrent atomic.Int32
	for i := 0; i < 200; i++ {
		worker.Schedule(func() {
			n := concurrent.Add(1)
			if n > maxConcurrent.Load() {
				maxConcurrent.Store(n)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			concurrent.Add(-1)
		})
	}
	pool.WaitUntilIdle()

	require.Len(t, order, 200)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestWorker_ContinuesAfterPanic(t *testing.T) {
	pool := NewThreadPool(2)
	defer pool.Close()

	worker := pool.CreateWorker()

	var ran atomic.Bool
	worker.Schedule(func() {
		panic("boom")
	})
	worker.Schedule(func() {
		ran.Store(true)
	})
	pool.WaitUntilIdle()

	assert.True(t, ran.Load())
}

func TestWorkers_RunIndependently(t *testing.T) {
	pool := NewThreadPool(2)
	defer pool.Close()

	first := pool.CreateWorker()
	second := pool.CreateWorker()

	release := make(chan struct{})
	var secondRan atomic.Bool

	first.Schedule(func() {
		<-release
	})
	second.Schedule(func() {
		secondRan.Store(true)
		close(release)
	})
	pool.WaitUntilIdle()

	assert.True(t, secondRan.Load())
}
