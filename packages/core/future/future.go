package future

import (
	"fmt"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/scheduler"
)

// UsageError is the panic value of a misused Writer or Reader, such as a
// second Set or Take. It is a programming error and never recoverable.
type UsageError struct {
	msg string
}

func usageError(msg string) *UsageError {
	return &UsageError{msg: msg}
}

func (e *UsageError) Error() string {
	return "future: " + e.msg
}

// Fatal marks the panic as one a scheduler must not swallow.
func (e *UsageError) Fatal() bool {
	return true
}

// State is the lifecycle of the value shared by a Writer and a Reader.
type State int

const (
	// NotSet means no value has been provided yet
	NotSet State = iota
	// Set means a value (possibly absent, if abandoned) is available
	Set
	// Taken means the reader consumed the value
	Taken
)

func (s State) String() string {
	switch s {
	case NotSet:
		return "not-set"
	case Set:
		return "set"
	case Taken:
		return "taken"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// shared is the state common to one Writer/Reader pair. It is referenced by
// both ends and released once neither holds it.
type shared[T any] struct {
	mu      sync.Mutex
	ready   chan struct{}
	state   State
	value   T
	present bool
}

func (s *shared[T]) set(value T, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case NotSet:
		s.value = value
		s.present = present
		s.state = Set
		// Closing the channel publishes value and present to whoever
		// observes it.
		close(s.ready)
	case Set:
		panic(usageError("value has already been set"))
	default:
		panic(usageError("value has already been taken"))
	}
}

// Writer provides the value for a paired Reader. It must be used at most once.
type Writer[T any] struct {
	mu       sync.Mutex
	state    *shared[T]
	consumed bool
}

// Reader waits for and retrieves the value provided by a paired Writer.
type Reader[T any] struct {
	mu    sync.Mutex
	state *shared[T]
	taken bool
}

// MakePair creates a linked Writer and Reader.
func MakePair[T any]() (*Writer[T], *Reader[T]) {
	s := &shared[T]{ready: make(chan struct{})}
	return &Writer[T]{state: s}, &Reader[T]{state: s}
}

// Set stores value and consumes the writer. Setting twice panics.
func (w *Writer[T]) Set(value T) {
	s := w.consume()
	if s == nil {
		panic(usageError("writer has already been used"))
	}
	s.set(value, true)
}

// Abandon releases the writer without a value, so the reader observes an
// absent value. It is a no-op once Set has been called, which allows
//
//	defer w.Abandon()
//
// right after MakePair.
func (w *Writer[T]) Abandon() {
	s := w.consume()
	if s == nil {
		return
	}
	var zero T
	s.set(zero, false)
}

func (w *Writer[T]) consume() *shared[T] {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.consumed {
		return nil
	}
	w.consumed = true
	s := w.state
	w.state = nil
	return s
}

// Wait reports whether the value became available within timeout. It does
// not consume the value.
func (r *Reader[T]) Wait(timeout time.Duration) bool {
	s := r.current()
	if timeout <= 0 {
		select {
		case <-s.ready:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed once the value is available.
func (r *Reader[T]) Done() <-chan struct{} {
	return r.current().ready
}

// Take blocks until the value is available and consumes the reader. ok is
// false only if the writer was abandoned. Taking twice panics.
func (r *Reader[T]) Take() (value T, ok bool) {
	r.mu.Lock()
	if r.taken {
		r.mu.Unlock()
		panic(usageError("value has already been taken"))
	}
	r.taken = true
	s := r.state
	r.mu.Unlock()

	<-s.ready

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Set {
		panic(usageError("value has already been taken"))
	}
	s.state = Taken
	value, ok = s.value, s.present
	var zero T
	s.value = zero
	return value, ok
}

// State returns a snapshot of the shared state.
func (r *Reader[T]) State() State {
	s := r.current()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (r *Reader[T]) current() *shared[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Schedule runs fn on s and returns a Reader for its result. If fn panics the
// writer is abandoned and the panic is left to the scheduler.
func Schedule[T any](s scheduler.Scheduler, fn func() T) *Reader[T] {
	w, r := MakePair[T]()
	s.Schedule(func() {
		defer w.Abandon()
		w.Set(fn())
	})
	return r
}
