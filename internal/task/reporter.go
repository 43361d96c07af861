package task

import "sync/atomic"

// Progress is the last reported step of a running task.
type Progress struct {
	Step    int
	Total   int
	Message string
}

// Reporter is handed to a task work function. It is the cancellation token
// observed at checkpoints and the channel for progress reports.
type Reporter struct {
	t         *Task
	cancelled atomic.Bool
}

// Checkpoint returns ErrCancelled once a cancellation was requested.
// Work functions call it at points where stopping is safe.
func (r *Reporter) Checkpoint() error {
	if r.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

// Cancelled reports whether a cancellation was requested.
func (r *Reporter) Cancelled() bool {
	return r.cancelled.Load()
}

// Done is closed when a cancellation is requested. Work blocked on
// something other than a checkpoint can select on it.
func (r *Reporter) Done() <-chan struct{} {
	return r.t.cancelCh
}

// SetTotal sets the expected number of steps.
func (r *Reporter) SetTotal(total int) {
	r.t.updateProgress(func(p *Progress) { p.Total = total })
}

// Report records the current step and emits ProgressChanged.
func (r *Reporter) Report(step int, message string) {
	r.t.updateProgress(func(p *Progress) {
		p.Step = step
		p.Message = message
	})
}
