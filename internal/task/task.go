// Package task implements the asynchronous unit of work used by installer
// modules for long running operations.
//
// A Task runs at most once. Its state moves Idle -> Running -> one of
// Succeeded, Failed or Cancelled and never leaves a terminal state:
//
//	Idle ---Start/Run---> Running ---work returns nil------> Succeeded
//	  |                      |------work returns error-----> Failed
//	  |                      '---cancel observed by work---> Cancelled
//	  '--------Cancel------------------------------------>  Cancelled
//
// The work function receives a Reporter. Cancellation is cooperative: Cancel
// only raises a flag which the work observes by calling Reporter.Checkpoint.
// A work function which finishes without an error after the flag was raised
// still succeeds.
//
// Failures of the work function are never returned from Start. They are kept
// in the Failed state and can be read with Err or FailureReason.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/Modulus/internal/signal"
)

// Work is the body of a task. The returned value becomes the task result.
type Work func(ctx context.Context, r *Reporter) (any, error)

type Option func(*Task)

// WithCancellable marks the task as (not) accepting cancellation while running.
// Tasks are cancellable by default.
func WithCancellable(cancellable bool) Option {
	return func(t *Task) { t.cancellable = cancellable }
}

// WithSteps sets the initial total number of progress steps.
func WithSteps(total int) Option {
	return func(t *Task) { t.progress.Total = total }
}

type Task struct {
	id          uuid.UUID
	name        string
	work        Work
	cancellable bool
	reporter    *Reporter

	mx       sync.Mutex
	state    State
	result   any
	err      *ExecutionError
	progress Progress
	stop     context.CancelFunc
	done     chan struct{}
	cancelMx sync.Once
	cancelCh chan struct{}

	Started         signal.Signal[*Task]
	Succeeded       signal.Signal[*Task]
	Failed          signal.Signal[*Task]
	Stopped         signal.Signal[*Task]
	ProgressChanged signal.Signal[Progress]
}

func New(name string, work Work, opts ...Option) *Task {
	t := &Task{
		id:          uuid.New(),
		name:        name,
		work:        work,
		cancellable: true,
		done:        make(chan struct{}),
		cancelCh:    make(chan struct{}),
	}
	t.reporter = &Reporter{t: t}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) ID() uuid.UUID { return t.id }

func (t *Task) Name() string { return t.name }

func (t *Task) Cancellable() bool { return t.cancellable }

func (t *Task) State() State {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.state
}

func (t *Task) IsRunning() bool {
	return t.State() == Running
}

func (t *Task) Progress() Progress {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.progress
}

// Done is closed once the task reached a terminal state and all
// terminal signals were emitted.
func (t *Task) Done() <-chan struct{} { return t.done }

// Start moves the task to Running and executes the work on a new goroutine.
// The work does not inherit cancellation of ctx, only its values: a started
// task outlives the call which started it and is stopped through Cancel.
func (t *Task) Start(ctx context.Context) error {
	ctx, err := t.begin(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	go t.execute(ctx)
	return nil
}

// Run executes the task synchronously in the caller's goroutine and returns
// the terminal failure, if any. Cancelling ctx requests task cancellation.
func (t *Task) Run(ctx context.Context) error {
	wctx, err := t.begin(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, t.requestCancel)
	defer stop()
	t.execute(wctx)

	if err := t.Err(); err != nil {
		return err
	}
	if t.State() == Cancelled {
		return ErrCancelled
	}
	return nil
}

// Wait blocks until the task is terminal or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return nil
	}
}

// Cancel stops an idle task immediately, or asks a running one to stop at
// its next checkpoint.
func (t *Task) Cancel() error {
	t.mx.Lock()
	switch t.state {
	case Idle:
		t.state = Cancelled
		t.mx.Unlock()
		t.requestCancel()
		slog.Debug("task cancelled before start", "task", t.name, "task_id", t.id)
		t.Stopped.Emit(t)
		close(t.done)
		return nil
	case Running:
		if !t.cancellable {
			t.mx.Unlock()
			return fmt.Errorf("%w: %s", ErrNotCancellable, t.name)
		}
		t.mx.Unlock()
		slog.Debug("task cancellation requested", "task", t.name, "task_id", t.id)
		t.requestCancel()
		return nil
	default:
		s := t.state
		t.mx.Unlock()
		return invalidState("cancel", s)
	}
}

// Result returns the value produced by the work function.
func (t *Task) Result() (any, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.state != Succeeded {
		return nil, invalidState("get the result of", t.state)
	}
	return t.result, nil
}

// Err returns the captured *ExecutionError of a failed task, nil otherwise.
func (t *Task) Err() error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.err == nil {
		return nil
	}
	return t.err
}

// FailureReason returns the description of the failure.
func (t *Task) FailureReason() (string, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.state != Failed {
		return "", invalidState("get the failure of", t.state)
	}
	return t.err.Err.Error(), nil
}

// ResultAs returns the result of a succeeded task converted to T.
func ResultAs[T any](t *Task) (T, error) {
	var zero T
	v, err := t.Result()
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	ret, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedValue, v)
	}
	return ret, nil
}

func (t *Task) begin(ctx context.Context) (context.Context, error) {
	t.mx.Lock()
	if !isAllowedTransition(t.state, Running) {
		s := t.state
		t.mx.Unlock()
		return nil, invalidState("start", s)
	}
	t.state = Running
	ctx, t.stop = context.WithCancel(ctx)
	t.mx.Unlock()

	slog.DebugContext(ctx, "task started", "task", t.name, "task_id", t.id)
	t.Started.Emit(t)
	return ctx, nil
}

func (t *Task) execute(ctx context.Context) {
	result, err := t.safeRun(ctx)

	t.mx.Lock()
	var to State
	switch {
	case err == nil:
		to = Succeeded
		t.result = result
	case t.reporter.Cancelled() && (errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)):
		to = Cancelled
	default:
		to = Failed
		t.err = &ExecutionError{Task: t.name, Err: err}
	}
	t.state = to
	stop := t.stop
	t.mx.Unlock()
	stop()

	switch to {
	case Succeeded:
		slog.DebugContext(ctx, "task succeeded", "task", t.name, "task_id", t.id)
		t.Succeeded.Emit(t)
	case Failed:
		slog.WarnContext(ctx, "task failed", "task", t.name, "task_id", t.id, "error", err)
		t.Failed.Emit(t)
	case Cancelled:
		slog.InfoContext(ctx, "task cancelled", "task", t.name, "task_id", t.id)
	}
	t.Stopped.Emit(t)
	close(t.done)
}

func (t *Task) safeRun(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return t.work(ctx, t.reporter)
}

func (t *Task) requestCancel() {
	t.cancelMx.Do(func() {
		t.reporter.cancelled.Store(true)
		close(t.cancelCh)
	})
}

func (t *Task) updateProgress(f func(*Progress)) {
	t.mx.Lock()
	f(&t.progress)
	p := t.progress
	t.mx.Unlock()
	t.ProgressChanged.Emit(p)
}
