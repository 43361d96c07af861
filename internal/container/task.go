package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

func init() {
	errNs := bus.ModulusNamespace.Join("Error", "Task")
	bus.RegisterError(errNs.Join("InvalidState").InterfaceName(), task.ErrInvalidState)
	bus.RegisterError(errNs.Join("Cancelled").InterfaceName(), task.ErrCancelled)
	bus.RegisterError(errNs.Join("NotCancellable").InterfaceName(), task.ErrNotCancellable)
	bus.RegisterError(errNs.Join("Execution").InterfaceName(), task.ErrExecution)
	bus.RegisterError(bus.ModulusNamespace.Join("Error", "Container", "NoNamespace").InterfaceName(), ErrNoNamespace)
}

// TaskContainer publishes tasks as TaskInterface objects.
type TaskContainer = Container[*task.Task]

func NewTaskContainer(b *bus.Bus) *TaskContainer {
	return New(b, "Task", func(path string, t *task.Task) bus.Object {
		return NewTaskInterface(b, path, t)
	})
}

// TaskInterface is the remote face of a task.
type TaskInterface struct {
	task       *task.Task
	disconnect []func()
}

// NewTaskInterface wraps t and forwards its signals and property changes to
// the bus under path until Release.
func NewTaskInterface(b *bus.Bus, path string, t *task.Task) *TaskInterface {
	iface := bus.TaskInterface
	ti := &TaskInterface{task: t}
	ti.watch(&t.Started, func(*task.Task) {
		b.EmitPropertiesChanged(path, iface, map[string]any{"IsRunning": true})
		b.EmitSignal(path, iface, "Started")
	})
	ti.watch(&t.Succeeded, func(*task.Task) {
		b.EmitSignal(path, iface, "Succeeded")
	})
	ti.watch(&t.Failed, func(*task.Task) {
		b.EmitSignal(path, iface, "Failed")
	})
	ti.watch(&t.Stopped, func(*task.Task) {
		b.EmitPropertiesChanged(path, iface, map[string]any{"IsRunning": false})
		b.EmitSignal(path, iface, "Stopped")
	})
	h := t.ProgressChanged.Connect(func(p task.Progress) {
		b.EmitPropertiesChanged(path, iface, map[string]any{"Progress": p})
	})
	ti.disconnect = append(ti.disconnect, func() { t.ProgressChanged.Disconnect(h) })
	return ti
}

func (ti *TaskInterface) watch(sig *signal.Signal[*task.Task], fn func(*task.Task)) {
	h := sig.Connect(fn)
	ti.disconnect = append(ti.disconnect, func() { sig.Disconnect(h) })
}

// Release stops forwarding the task signals.
func (ti *TaskInterface) Release() {
	for _, d := range ti.disconnect {
		d()
	}
	ti.disconnect = nil
}

func (ti *TaskInterface) InterfaceName() string { return bus.TaskInterface }

func (ti *TaskInterface) Call(ctx context.Context, member string, _ []any) (any, error) {
	switch member {
	case "Start":
		return nil, ti.task.Start(ctx)
	case "Cancel":
		return nil, ti.task.Cancel()
	case "IsRunning":
		return ti.task.IsRunning(), nil
	case "GetResult":
		return ti.task.Result()
	case "Finish":
		return nil, ti.finish(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", bus.ErrUnknownMember, member)
	}
}

func (ti *TaskInterface) Get(_ context.Context, property string) (any, error) {
	switch property {
	case "Name":
		return ti.task.Name(), nil
	case "Progress":
		return ti.task.Progress(), nil
	case "Steps":
		return ti.task.Progress().Total, nil
	case "IsCancellable":
		return ti.task.Cancellable(), nil
	case "IsRunning":
		return ti.task.IsRunning(), nil
	case "State":
		return ti.task.State().String(), nil
	default:
		return nil, fmt.Errorf("%w: %s", bus.ErrUnknownMember, property)
	}
}

// finish reports the outcome of a terminal task once its terminal signals
// were delivered. A failure is returned as the original work error when
// that error has a registered remote name.
func (ti *TaskInterface) finish(ctx context.Context) error {
	s := ti.task.State()
	if s.IsTerminal() {
		if err := ti.task.Wait(ctx); err != nil {
			return err
		}
	}
	switch s {
	case task.Succeeded:
		return nil
	case task.Cancelled:
		return task.ErrCancelled
	case task.Failed:
		err := ti.task.Err()
		var execErr *task.ExecutionError
		if errors.As(err, &execErr) && bus.ErrorName(execErr.Err) != bus.DefaultErrorName {
			return execErr.Err
		}
		return err
	default:
		return fmt.Errorf("%w: task %q is %s", task.ErrInvalidState, ti.task.Name(), s)
	}
}
