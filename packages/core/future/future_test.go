package future

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/scheduler"
)

func TestFuture_SetThenTake(t *testing.T) {
	w, r := MakePair[int]()

	assert.Equal(t, NotSet, r.State())
	assert.False(t, r.Wait(0))

	w.Set(42)

	assert.Equal(t, Set, r.State())
	assert.True(t, r.Wait(0))

	value, ok := r.Take()
	require.True(t, ok)
	assert.Equal(t, 42, value)
	assert.Equal(t, Taken, r.State())
}

func TestFuture_AbandonYieldsAbsent(t *testing.T) {
	w, r := MakePair[string]()
	w.Abandon()

	assert.True(t, r.Wait(time.Millisecond))

	value, ok := r.Take()
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestFuture_AbandonAfterSetIsNoop(t *testing.T) {
	w, r := MakePair[int]()
	w.Set(7)
	w.Abandon()

	value, ok := r.Take()
	require.True(t, ok)
	assert.Equal(t, 7, value)
}

func TestFuture_DeferredAbandon(t *testing.T) {
	produce := func(set bool) *Reader[int] {
		w, r := MakePair[int]()
		defer w.Abandon()
		if set {
			w.Set(1)
		}
		return r
	}

	_, ok := produce(true).Take()
	assert.True(t, ok)

	_, ok = produce(false).Take()
	assert.False(t, ok)
}

func TestFuture_DoubleSetPanics(t *testing.T) {
	w, _ := MakePair[int]()
	w.Set(1)

	assert.PanicsWithError(t, "future: value has already been set", func() {
		w.Set(2)
	})
}

func TestFuture_SetAfterAbandonPanics(t *testing.T) {
	w, _ := MakePair[int]()
	w.Abandon()

	assert.Panics(t, func() {
		w.Set(2)
	})
}

func TestFuture_DoubleTakePanics(t *testing.T) {
	w, r := MakePair[int]()
	w.Set(1)
	_, _ = r.Take()

	assert.PanicsWithError(t, "future: value has already been taken", func() {
		_, _ = r.Take()
	})
}

func TestFuture_UsagePanicIsFatal(t *testing.T) {
	w, _ := MakePair[int]()
	w.Set(1)

	defer func() {
		r := recover()
		usage, ok := r.(*UsageError)
		require.True(t, ok, "panic value %T", r)
		assert.True(t, usage.Fatal())
	}()
	w.Set(2)
}

func TestFuture_WaitTimesOut(t *testing.T) {
	_, r := MakePair[int]()

	start := time.Now()
	assert.False(t, r.Wait(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFuture_DoneChannel(t *testing.T) {
	w, r := MakePair[int]()

	select {
	case <-r.Done():
		t.Fatal("done before set")
	default:
	}

	w.Set(3)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after set")
	}
}

func TestFuture_ConcurrentSetAndTake(t *testing.T) {
	for i := 0; i < 100; i++ {
		w, r := MakePair[[]int]()

		var wg sync.WaitGroup
		wg.Add(2)

		var got []int
		var ok bool
		go func() {
			defer wg.Done()
			got, ok = r.Take()
		}()
		go func() {
			defer wg.Done()
			w.Set([]int{i, i + 1})
		}()
		wg.Wait()

		require.True(t, ok)
		assert.Equal(t, []int{i, i + 1}, got)
	}
}

func TestSchedule_DeliversResult(t *testing.T) {
	pool := scheduler.NewThreadPool(1)
	defer pool.Close()

	r := Schedule(pool, func() string {
		return "done"
	})

	value, ok := r.Take()
	require.True(t, ok)
	assert.Equal(t, "done", value)
}

func TestSchedule_PanicAbandons(t *testing.T) {
	pool := scheduler.NewThreadPool(1)
	defer pool.Close()

	r := Schedule(pool, func() int {
		panic("boom")
	})

	_, ok := r.Take()
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not-set", NotSet.String())
	assert.Equal(t, "set", Set.String())
	assert.Equal(t, "taken", Taken.String())
	assert.Equal(t, "state(9)", State(9).String())
}
