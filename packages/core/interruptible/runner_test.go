package interruptible

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTiming() TimingConfig {
	return TimingConfig{
		PollingPeriod:          5 * time.Millisecond,
		GracefulShutdownPeriod: 30 * time.Millisecond,
		ExtendedShutdownPeriod: 60 * time.Millisecond,
	}
}

func TestRunner_AbortBeforeStart(t *testing.T) {
	r := NewRunner(func() bool { return true }, fastTiming())
	defer r.Close()

	var called atomic.Bool
	err := r.Run(func(*Token) error {
		called.Store(true)
		return nil
	}, nil)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, StageBeforeStart, cancelled.Stage)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, called.Load())
	assert.Equal(t, StateCancelledBeforeStart, r.State())
	assert.Equal(t, "cancelled-before-start", r.State().String())
}

func TestRunner_ResultPassesThrough(t *testing.T) {
	r := NewRunner(func() bool { return false }, fastTiming())
	defer r.Close()

	err := r.Run(func(*Token) error {
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, r.State())

	want := errors.New("inner failure")
	err = r.Run(func(*Token) error {
		return want
	}, nil)
	assert.Same(t, want, err)
}

func TestRunner_SlowOperationCompletes(t *testing.T) {
	r := NewRunner(nil, fastTiming())
	defer r.Close()

	err := r.Run(func(*Token) error {
		time.Sleep(40 * time.Millisecond)
		return nil
	}, nil)
	assert.NoError(t, err)
}

func TestRunner_PanicIsAbandoned(t *testing.T) {
	r := NewRunner(nil, fastTiming())
	defer r.Close()

	err := r.Run(func(*Token) error {
		panic("boom")
	}, nil)
	assert.ErrorIs(t, err, ErrOperationAbandoned)
}

func TestRunner_GracefulAbort(t *testing.T) {
	var abort atomic.Bool
	r := NewRunner(abort.Load, fastTiming())
	defer r.Close()

	var abortCalled atomic.Bool
	started := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		<-started
		abort.Store(true)
	}()

	err := r.Run(func(*Token) error {
		close(started)
		<-stop
		return nil
	}, func() {
		abortCalled.Store(true)
		close(stop)
	})

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, StageGraceful, cancelled.Stage)
	assert.True(t, abortCalled.Load())
	assert.Equal(t, StateCancelledGraceful, r.State())
}

func TestRunner_TokenIsCancelledOnAbort(t *testing.T) {
	var abort atomic.Bool
	r := NewRunner(abort.Load, fastTiming())
	defer r.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		abort.Store(true)
	}()

	err := r.Run(func(token *Token) error {
		<-token.Done()
		assert.True(t, token.Cancelled())
		return nil
	}, nil)

	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRunner_ExtendedAbort(t *testing.T) {
	var abort atomic.Bool
	r := NewRunner(abort.Load, fastTiming())
	defer r.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		abort.Store(true)
	}()

	err := r.Run(func(token *Token) error {
		<-token.Done()
		// Outlive the graceful period but not the extended one.
		time.Sleep(50 * time.Millisecond)
		return nil
	}, nil)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, StageExtended, cancelled.Stage)
	assert.Equal(t, StateCancelledExtended, r.State())
}

func TestRunner_FatalAbortCallsExit(t *testing.T) {
	var abort atomic.Bool
	exitCode := make(chan int, 1)
	r := NewRunner(abort.Load, fastTiming(), WithExitFunc(func(code int) {
		exitCode <- code
	}))

	release := make(chan struct{})
	defer close(release)

	go func() {
		time.Sleep(10 * time.Millisecond)
		abort.Store(true)
	}()

	start := time.Now()
	err := r.Run(func(*Token) error {
		<-release
		return nil
	}, func() {})
	elapsed := time.Since(start)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, StageFatal, cancelled.Stage)
	assert.Equal(t, StateFatal, r.State())
	assert.Equal(t, 0, <-exitCode)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)

	// Close must not wait for the stuck operation.
	r.Close()
}

func TestAbortOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	shouldAbort := AbortOnContext(ctx)

	assert.False(t, shouldAbort())
	cancel()
	assert.True(t, shouldAbort())
}

func TestToken_Context(t *testing.T) {
	token := newToken()
	ctx, cancel := token.Context(context.Background())
	defer cancel()

	assert.NoError(t, ctx.Err())
	token.cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with token")
	}
}

func TestCancelledError_Message(t *testing.T) {
	err := &CancelledError{Stage: StageGraceful}
	assert.Equal(t, "cancelled after graceful wait", err.Error())
}
