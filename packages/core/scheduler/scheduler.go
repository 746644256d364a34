package scheduler

import (
	"log/slog"
	"sync"
)

// Scheduler runs tasks on a set of goroutines.
type Scheduler interface {
	// Schedule enqueues a task to run on some pool goroutine.
	Schedule(task func())
	// WaitUntilIdle blocks until no tasks are running or pending.
	WaitUntilIdle()
	// CreateWorker returns a Worker whose tasks run sequentially on this
	// scheduler.
	CreateWorker() Worker
}

// Worker runs tasks strictly sequentially in the order they were scheduled.
type Worker interface {
	Schedule(task func())
}

// ThreadPool is a fixed-size Scheduler.
type ThreadPool struct {
	mu      sync.Mutex
	work    *sync.Cond
	idle    *sync.Cond
	queue   []func()
	active  int
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	threads int
}

// Option configures a ThreadPool
type Option func(*ThreadPool)

// WithLogger sets the logger used to report panicking tasks
func WithLogger(logger *slog.Logger) Option {
	return func(p *ThreadPool) {
		p.logger = logger
	}
}

// NewThreadPool creates a pool with the given number of goroutines. A
// non-positive count is treated as one.
func NewThreadPool(threads int, opts ...Option) *ThreadPool {
	if threads < 1 {
		threads = 1
	}

	p := &ThreadPool{
		threads: threads,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.work = sync.NewCond(&p.mu)
	p.idle = sync.NewCond(&p.mu)

	p.wg.Add(threads)
	for i := 0; i < threads; i++ {
		go p.loop()
	}

	return p
}

// Schedule enqueues a task. Scheduling on a closed pool panics.
func (p *ThreadPool) Schedule(task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		panic("scheduler: schedule on a closed pool")
	}
	p.queue = append(p.queue, task)
	p.work.Signal()
}

// WaitUntilIdle blocks until there are no pending or running tasks.
func (p *ThreadPool) WaitUntilIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 || p.active > 0 {
		p.idle.Wait()
	}
}

// CreateWorker returns a sequential Worker backed by this pool.
func (p *ThreadPool) CreateWorker() Worker {
	return &worker{scheduler: p}
}

// Threads returns the pool size
func (p *ThreadPool) Threads() int {
	return p.threads
}

// Close waits until the pool is idle and stops its goroutines. It is safe
// to call more than once.
func (p *ThreadPool) Close() {
	p.WaitUntilIdle()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.work.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *ThreadPool) loop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.work.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}

		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		p.active--
		if len(p.queue) == 0 && p.active == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}
}

// fatalPanic is implemented by panic values that report programming errors,
// such as misuse of a future. They are re-raised and stop the process.
type fatalPanic interface {
	Fatal() bool
}

func isFatal(r any) bool {
	f, ok := r.(fatalPanic)
	return ok && f.Fatal()
}

func (p *ThreadPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if isFatal(r) {
				p.logger.Error("scheduled task hit a fatal usage error", "panic", r)
				panic(r)
			}
			p.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	task()
}

// worker serializes its tasks by keeping at most one drain task scheduled
// on the underlying Scheduler at any time.
type worker struct {
	scheduler Scheduler

	mu      sync.Mutex
	queue   []func()
	running bool
}

func (w *worker) Schedule(task func()) {
	w.mu.Lock()
	w.queue = append(w.queue, task)
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.scheduler.Schedule(w.drain)
}

func (w *worker) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.running = false
			w.mu.Unlock()
			return
		}
		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.runOne(task)
	}
}

func (w *worker) runOne(task func()) {
	// A panicking task must not leave the worker marked as running.
	defer func() {
		if r := recover(); r != nil {
			if isFatal(r) {
				panic(r)
			}
			slog.Default().Error("worker task panicked", "panic", r)
		}
	}()
	task()
}
