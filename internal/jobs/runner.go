package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrorHandler receives failures from background tasks. Submit itself
// returns nothing, so this sink is the only completion signal.
type ErrorHandler func(taskName string, err error)

// Runner executes submitted tasks on a fixed pool of workers. It exists
// for work nobody waits on: stuck-job sweeps, deferred cleanup. Job
// continuation never goes through here; drivers call the engine directly
// so each step stays bounded and observable.
type Runner struct {
	logger  *slog.Logger
	onError ErrorHandler
	workers int

	tasks  chan Task
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewRunner builds a Runner. If onError is nil, failures are logged.
func NewRunner(workers, queueDepth int, logger *slog.Logger, onError ErrorHandler) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		logger: logger.With("component", "runner"),
		tasks:  make(chan Task, queueDepth),
	}
	if onError == nil {
		onError = func(taskName string, err error) {
			r.logger.Error("background task failed", "task", taskName, "error", err)
		}
	}
	r.onError = onError
	r.workers = workers
	return r
}

// Start launches the worker pool. Calling Start twice is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Submit queues a task. Returns false if the queue is full or the runner
// is stopped; the caller decides whether that matters.
//
// The mutex is held across the send so Stop cannot close the channel
// between the closed check and the send. The send never blocks, so the
// lock is only held for the length of a channel operation.
func (r *Runner) Submit(task Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.started {
		return false
	}

	select {
	case r.tasks <- task:
		return true
	default:
		r.logger.Warn("task queue full, dropping task", "task", task.Name)
		return false
	}
}

// Stop cancels in-flight tasks and waits for the workers to drain.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.closed || !r.started {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancel()
	// Safe while holding the mutex: every send in Submit also holds it,
	// so no send can be in flight here.
	close(r.tasks)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for task := range r.tasks {
		if ctx.Err() != nil {
			r.onError(task.Name, ctx.Err())
			continue
		}
		r.runOne(ctx, task)
	}
}

// runOne executes a task, converting panics into handled errors so one
// bad task cannot take down the pool.
func (r *Runner) runOne(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.onError(task.Name, fmt.Errorf("task panicked: %v", rec))
		}
	}()
	if err := task.Run(ctx); err != nil {
		r.onError(task.Name, err)
	}
}
