// Package dispatch runs job executors as asynchronous tasks and hands out
// cancellable handles for them.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/id/uuid"
)

// ExecutorFunc performs a job's per-item work. The context is cancelled when
// the task is revoked; implementations cooperate by checking it between
// items.
type ExecutorFunc func(ctx context.Context, job catalog.Job)

// Dispatcher maps job kinds to executors and runs each accepted job on its
// own goroutine. It implements catalog.Dispatcher.
type Dispatcher struct {
	baseCtx   context.Context
	executors map[catalog.JobKind]ExecutorFunc
	idGen     *uuid.Generator
	logger    *zap.Logger

	// watchdog bounds a task's wall clock when > 0. It is a coarse safety
	// net, not a per-item timeout.
	watchdog time.Duration

	mu      sync.Mutex
	cancels map[catalog.TaskHandle]context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Dispatcher. baseCtx is the parent of every task context;
// cancelling it revokes all running tasks.
func New(baseCtx context.Context, watchdog time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Dispatcher{
		baseCtx:   baseCtx,
		executors: make(map[catalog.JobKind]ExecutorFunc),
		idGen:     uuid.New(),
		logger:    logger,
		watchdog:  watchdog,
		cancels:   make(map[catalog.TaskHandle]context.CancelFunc),
	}
}

// Register binds an executor to a job kind. Registration happens during
// wiring, before any job is started.
func (d *Dispatcher) Register(kind catalog.JobKind, fn ExecutorFunc) {
	d.executors[kind] = fn
}

// StartJob launches the executor for the job's kind and returns a handle
// that Cancel accepts. Jobs with no registered executor are rejected.
func (d *Dispatcher) StartJob(_ context.Context, job catalog.Job) (catalog.TaskHandle, error) {
	fn, ok := d.executors[job.Kind]
	if !ok {
		return "", fmt.Errorf("no executor registered for job kind %q", job.Kind)
	}

	id, err := d.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task handle: %w", err)
	}
	handle := catalog.TaskHandle(id)

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if d.watchdog > 0 {
		taskCtx, cancel = context.WithTimeout(d.baseCtx, d.watchdog)
	} else {
		taskCtx, cancel = context.WithCancel(d.baseCtx)
	}

	d.mu.Lock()
	d.cancels[handle] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			d.mu.Lock()
			delete(d.cancels, handle)
			d.mu.Unlock()
		}()
		d.logger.Debug("task started",
			zap.Int64("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.String("handle", string(handle)),
		)
		fn(taskCtx, job)
	}()

	return handle, nil
}

// Cancel revokes the task behind the handle. Cancellation is cooperative;
// unknown handles are ignored so late cancel requests are harmless.
func (d *Dispatcher) Cancel(handle catalog.TaskHandle) {
	d.mu.Lock()
	cancel, ok := d.cancels[handle]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Wait blocks until all running tasks have returned. Used during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
