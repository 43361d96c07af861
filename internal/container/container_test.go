package container_test

import (
	"context"
	"errors"
	"testing"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/task"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNamespace = bus.Namespace{"com", "czertainly", "Modulus", "Test"}

func newTask(name string) *task.Task {
	return task.New(name, func(context.Context, *task.Reporter) (any, error) { return name, nil })
}

func TestPublishList(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := container.NewTaskContainer(b)
	c.SetNamespace(testNamespace)

	tasks := []*task.Task{newTask("a"), newTask("b"), newTask("c"), newTask("d")}
	paths, err := c.ToObjectPathList(tasks)
	require.NoError(t, err)
	require.Len(t, paths, len(tasks))
	require.Equal(t, []string{
		"/com/czertainly/Modulus/Test/Task/1",
		"/com/czertainly/Modulus/Test/Task/2",
		"/com/czertainly/Modulus/Test/Task/3",
		"/com/czertainly/Modulus/Test/Task/4",
	}, paths)

	for i, path := range paths {
		got, err := c.FromObjectPath(path)
		require.NoError(t, err)
		require.Same(t, tasks[i], got)

		name, err := bus.GetAs[string](t.Context(), bus.NewProxy(b, path), "Name")
		require.NoError(t, err)
		require.Equal(t, tasks[i].Name(), name)
	}

	back, err := c.FromObjectPathList(paths)
	require.NoError(t, err)
	require.Equal(t, tasks, back)
}

func TestPublishIdempotent(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := container.NewTaskContainer(b)
	c.SetNamespace(testNamespace)

	tsk := newTask("a")
	first, err := c.ToObjectPath(tsk)
	require.NoError(t, err)
	second, err := c.ToObjectPath(tsk)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, c.Len())
	require.Len(t, b.Paths(), 1)
}

func TestNamespace(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := container.NewTaskContainer(b)

	_, err := c.ToObjectPath(newTask("a"))
	require.ErrorIs(t, err, container.ErrNoNamespace)

	c.SetNamespace(testNamespace)
	old, err := c.ToObjectPath(newTask("a"))
	require.NoError(t, err)

	c.SetNamespace(testNamespace.Join("Other"))
	moved, err := c.ToObjectPath(newTask("b"))
	require.NoError(t, err)
	require.Equal(t, "/com/czertainly/Modulus/Test/Other/Task/2", moved)

	_, err = c.FromObjectPath(old)
	require.NoError(t, err)
	require.Equal(t, "/com/czertainly/Modulus/Test/Task/1", old)
}

func TestRelease(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := container.NewTaskContainer(b)
	c.SetNamespace(testNamespace)

	tsk := newTask("a")
	path, err := c.ToObjectPath(tsk)
	require.NoError(t, err)
	require.Equal(t, 1, tsk.Stopped.Len())
	require.Equal(t, 1, tsk.ProgressChanged.Len())
	c.Release(path)
	c.Release(path)
	require.Zero(t, tsk.Started.Len())
	require.Zero(t, tsk.Succeeded.Len())
	require.Zero(t, tsk.Failed.Len())
	require.Zero(t, tsk.Stopped.Len())
	require.Zero(t, tsk.ProgressChanged.Len())

	// a released task runs silently
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	var messages []bus.Message
	require.NoError(t, b.Subscribe(ctx, func(m bus.Message) { messages = append(messages, m) }))
	require.NoError(t, tsk.Run(t.Context()))
	require.Empty(t, messages)

	_, err = c.FromObjectPath(path)
	require.ErrorIs(t, err, bus.ErrUnknownObject)
	_, err = b.Call(t.Context(), path, "IsRunning")
	require.ErrorIs(t, err, bus.ErrUnknownObject)

	again, err := c.ToObjectPath(tsk)
	require.NoError(t, err)
	require.NotEqual(t, path, again, "paths are never reused")
}

func TestTaskInterface(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := container.NewTaskContainer(b)
	c.SetNamespace(testNamespace)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	var signals []string
	stopped := make(chan struct{})
	require.NoError(t, b.Subscribe(ctx, func(m bus.Message) {
		if m.Kind == bus.KindSignal {
			signals = append(signals, m.Member)
			if m.Member == "Stopped" {
				close(stopped)
			}
		}
	}))

	path, err := c.ToObjectPath(newTask("remote"))
	require.NoError(t, err)
	p := bus.NewProxy(b, path)

	_, err = p.Call(t.Context(), "GetResult")
	require.ErrorIs(t, err, task.ErrInvalidState)
	var remote *bus.Error
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "com.czertainly.Modulus.Error.Task.InvalidState", remote.Name)

	_, err = p.Call(t.Context(), "Start")
	require.NoError(t, err)
	<-stopped

	running, err := bus.CallAs[bool](t.Context(), p, "IsRunning")
	require.NoError(t, err)
	require.False(t, running)
	_, err = p.Call(t.Context(), "Finish")
	require.NoError(t, err)
	result, err := bus.CallAs[string](t.Context(), p, "GetResult")
	require.NoError(t, err)
	require.Equal(t, "remote", result)
	require.Equal(t, []string{"Started", "Succeeded", "Stopped"}, signals)

	_, err = p.Call(t.Context(), "Start")
	require.ErrorIs(t, err, task.ErrInvalidState)
}

func TestTaskInterfaceFailure(t *testing.T) {
	t.Parallel()
	b := bus.New()
	c := container.NewTaskContainer(b)
	c.SetNamespace(testNamespace)

	tsk := task.New("fail", func(context.Context, *task.Reporter) (any, error) {
		return nil, errors.New("disk on fire")
	})
	path, err := c.ToObjectPath(tsk)
	require.NoError(t, err)
	p := bus.NewProxy(b, path)

	_, err = p.Call(t.Context(), "Finish")
	require.ErrorIs(t, err, task.ErrInvalidState)

	// the failure of the work is not returned from Start
	_, err = p.Call(t.Context(), "Start")
	require.NoError(t, err)
	require.NoError(t, tsk.Wait(t.Context()))

	_, err = p.Call(t.Context(), "Finish")
	require.ErrorIs(t, err, task.ErrExecution)
	var remote *bus.Error
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "com.czertainly.Modulus.Error.Task.Execution", remote.Name)
	require.Contains(t, remote.Message, "disk on fire")

	state, err := bus.GetAs[string](t.Context(), p, "State")
	require.NoError(t, err)
	require.Equal(t, "failed", state)
}
