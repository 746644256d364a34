package interruptible

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/future"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/scheduler"
)

const (
	// DefaultPollingPeriod is how often the abort predicate is checked
	DefaultPollingPeriod = time.Second
	// DefaultGracefulShutdownPeriod is the first wait after an abort
	DefaultGracefulShutdownPeriod = 2 * time.Second
	// DefaultExtendedShutdownPeriod is the second wait after an abort
	DefaultExtendedShutdownPeriod = 30 * time.Second
)

var (
	// ErrCancelled is matched by every CancelledError
	ErrCancelled = errors.New("operation cancelled")
	// ErrOperationAbandoned is returned when the operation ended without
	// producing a result, which only happens if it panicked.
	ErrOperationAbandoned = errors.New("operation ended without a result")
)

// TimingConfig holds the durations of the escalation ladder. PollingPeriod
// should be much shorter than GracefulShutdownPeriod, which in turn should be
// much shorter than ExtendedShutdownPeriod. This is not enforced.
type TimingConfig struct {
	PollingPeriod          time.Duration
	GracefulShutdownPeriod time.Duration
	ExtendedShutdownPeriod time.Duration
}

// DefaultTimingConfig returns the default escalation ladder
func DefaultTimingConfig() TimingConfig {
	return TimingConfig{
		PollingPeriod:          DefaultPollingPeriod,
		GracefulShutdownPeriod: DefaultGracefulShutdownPeriod,
		ExtendedShutdownPeriod: DefaultExtendedShutdownPeriod,
	}
}

// Stage identifies where on the escalation ladder a run was cancelled.
type Stage int

const (
	StageBeforeStart Stage = iota
	StageGraceful
	StageExtended
	StageFatal
)

func (s Stage) String() string {
	switch s {
	case StageBeforeStart:
		return "before start"
	case StageGraceful:
		return "after graceful wait"
	case StageExtended:
		return "after extended wait"
	case StageFatal:
		return "after exceeding all shutdown periods"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// CancelledError is returned by Run when the abort predicate fired.
type CancelledError struct {
	Stage Stage
}

func (e *CancelledError) Error() string {
	return "cancelled " + e.Stage.String()
}

func (e *CancelledError) Unwrap() error {
	return ErrCancelled
}

// State is the lifecycle of a Runner.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborting
	StateCancelledGraceful
	StateCancelledExtended
	StateFatal
	// StateCancelledBeforeStart is set when Run refused to start because
	// the abort predicate was already true.
	StateCancelledBeforeStart
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborting:
		return "aborting"
	case StateCancelledGraceful:
		return "cancelled-graceful"
	case StateCancelledExtended:
		return "cancelled-extended"
	case StateFatal:
		return "fatal"
	case StateCancelledBeforeStart:
		return "cancelled-before-start"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation is the unit of work run by a Runner. It should watch the token
// and return promptly once it is cancelled.
type Operation func(token *Token) error

// Runner runs operations one at a time on its own goroutine.
type Runner struct {
	shouldAbort func() bool
	timing      TimingConfig
	pool        *scheduler.ThreadPool
	logger      *slog.Logger
	exit        func(code int)

	mu    sync.Mutex
	state State
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the logger used for the escalation stages
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithExitFunc replaces os.Exit as the last stage of the escalation ladder.
func WithExitFunc(exit func(code int)) Option {
	return func(r *Runner) {
		r.exit = exit
	}
}

// NewRunner creates a Runner. A nil predicate never aborts.
func NewRunner(shouldAbort func() bool, timing TimingConfig, opts ...Option) *Runner {
	if shouldAbort == nil {
		shouldAbort = func() bool { return false }
	}

	r := &Runner{
		shouldAbort: shouldAbort,
		timing:      timing,
		logger:      slog.Default(),
		exit:        os.Exit,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pool = scheduler.NewThreadPool(1, scheduler.WithLogger(r.logger))

	return r
}

// AbortOnContext returns a predicate that reports whether ctx is done.
func AbortOnContext(ctx context.Context) func() bool {
	return func() bool {
		return ctx.Err() != nil
	}
}

// State returns the current lifecycle state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes op and returns its error unchanged, unless the abort
// predicate fires first. In that case the token passed to op is cancelled,
// abort is called (it may run concurrently with op) and Run returns a
// *CancelledError once op has returned. If op does not return within both
// shutdown periods the process exits.
func (r *Runner) Run(op Operation, abort func()) error {
	if r.shouldAbort() {
		r.setState(StateCancelledBeforeStart)
		return &CancelledError{Stage: StageBeforeStart}
	}

	r.setState(StateRunning)

	token := newToken()
	result := future.Schedule(r.pool, func() error {
		return op(token)
	})

	for {
		if result.Wait(r.timing.PollingPeriod) {
			r.setState(StateCompleted)
			err, ok := result.Take()
			if !ok {
				return ErrOperationAbandoned
			}
			return err
		}

		if r.shouldAbort() {
			return r.abort(result, token, abort)
		}
	}
}

func (r *Runner) abort(result *future.Reader[error], token *Token, abort func()) error {
	r.setState(StateAborting)
	r.logger.Warn("aborting run")

	token.cancel()
	if abort != nil {
		abort()
	}

	if result.Wait(r.timing.GracefulShutdownPeriod) {
		r.setState(StateCancelledGraceful)
		r.logger.Info("run cancelled after graceful wait")
		_, _ = result.Take()
		return &CancelledError{Stage: StageGraceful}
	}

	r.logger.Warn("run did not stop within graceful shutdown period, waiting longer",
		"graceful", r.timing.GracefulShutdownPeriod,
		"extended", r.timing.ExtendedShutdownPeriod)

	if result.Wait(r.timing.ExtendedShutdownPeriod) {
		r.setState(StateCancelledExtended)
		r.logger.Warn("run cancelled after extended wait")
		_, _ = result.Take()
		return &CancelledError{Stage: StageExtended}
	}

	r.setState(StateFatal)
	r.logger.Error("run did not stop within extended shutdown period, exiting process")
	r.exit(0)

	return &CancelledError{Stage: StageFatal}
}

// Close waits for the running operation, if any, and releases the runner's
// goroutine. A runner left in StateFatal is not waited for.
func (r *Runner) Close() {
	if r.State() == StateFatal {
		return
	}
	r.pool.Close()
}

// Token is handed to an Operation so it can observe cancellation.
type Token struct {
	once sync.Once
	done chan struct{}
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancelled reports whether the runner asked the operation to stop
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Context returns a context cancelled together with the token.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (t *Token) cancel() {
	t.once.Do(func() {
		close(t.done)
	})
}
