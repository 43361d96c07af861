package task

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState    = errors.New("invalid task state")
	ErrCancelled       = errors.New("task cancelled")
	ErrNotCancellable  = errors.New("task is not cancellable")
	ErrPanic           = errors.New("task panicked")
	ErrUnexpectedValue = errors.New("unexpected task result type")
	// ErrExecution matches every *ExecutionError.
	ErrExecution = errors.New("task execution failed")
)

// ExecutionError is the failure of a task work function, captured into
// the Failed state.
type ExecutionError struct {
	Task string
	Err  error
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: cannot %s a task in state %s", ErrInvalidState, op, s)
}
