package module_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var counterID = bus.ServiceIdentifier{Namespace: bus.ModulesNamespace.Join("Counter")}

type counterSection struct {
	Value int `toml:"value"`
}

// counter is a minimal module with one property and a feedback loop.
type counter struct {
	module.Base

	mx    sync.Mutex
	value int

	ValueChanged signal.Changed
}

func (c *counter) KickstartCommands() []string { return []string{"counter"} }

func (c *counter) ProcessKickstart(doc *kickstart.Document) error {
	var s counterSection
	ok, err := doc.Section("counter", &s)
	if err != nil || !ok {
		return err
	}
	c.SetValue(s.Value)
	return nil
}

func (c *counter) SetupKickstart(doc *kickstart.Document) error {
	doc.SetSection("counter", counterSection{Value: c.Value()})
	return nil
}

func (c *counter) Value() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.value
}

func (c *counter) SetValue(v int) {
	c.mx.Lock()
	c.value = v
	c.mx.Unlock()
	c.ValueChanged.Emit()
}

func (c *counter) InstallWithTasks() []*task.Task {
	next := c.Value() + 1
	t := task.New("increment", func(context.Context, *task.Reporter) (any, error) {
		return next, nil
	})
	t.Succeeded.Connect(func(t *task.Task) {
		v, err := task.ResultAs[int](t)
		if err == nil {
			c.SetValue(v)
		}
	})
	return []*task.Task{t}
}

func (c *counter) CollectRequirements() []module.Requirement {
	return module.SortRequirements([]module.Requirement{
		module.ForPackage("zsh", "shell"),
		module.ForPackage("bash", "shell"),
		module.ForPackage("zsh", "again"),
	})
}

type counterInterface struct {
	*module.InterfaceTemplate
	svc *counter
}

func newCounterInterface(b *bus.Bus, svc *counter) *counterInterface {
	tasks := container.NewTaskContainer(b)
	tasks.SetNamespace(counterID.Namespace)
	ci := &counterInterface{
		InterfaceTemplate: module.NewInterfaceTemplate(b, counterID, svc, tasks),
		svc:               svc,
	}
	ci.WatchProperty("Value", &svc.ValueChanged, func() any { return svc.Value() })
	return ci
}

func (ci *counterInterface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "SetValue":
		v, err := bus.Arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		ci.svc.SetValue(v)
		return nil, nil
	default:
		return ci.CallCommon(ctx, member, args)
	}
}

func (ci *counterInterface) Get(ctx context.Context, property string) (any, error) {
	switch property {
	case "Value":
		return ci.svc.Value(), nil
	default:
		return ci.GetCommon(ctx, property)
	}
}

func changes(t *testing.T, b *bus.Bus) func() []map[string]any {
	t.Helper()
	var mx sync.Mutex
	var got []map[string]any
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	require.NoError(t, b.Subscribe(ctx, func(m bus.Message) {
		if m.Kind != bus.KindPropertiesChanged || m.Path != counterID.ObjectPath() {
			return
		}
		mx.Lock()
		got = append(got, m.Changed)
		mx.Unlock()
	}))
	return func() []map[string]any {
		mx.Lock()
		defer mx.Unlock()
		return append([]map[string]any(nil), got...)
	}
}

func TestWatchProperty(t *testing.T) {
	t.Parallel()
	b := bus.New()
	svc := &counter{}
	ci := newCounterInterface(b, svc)
	got := changes(t, b)

	// connecting again must not duplicate notifications
	ci.ConnectSignals()
	require.NoError(t, module.Register(b, counterID, ci))
	ci.ConnectSignals()
	require.ErrorIs(t, module.Publish(b, counterID.ObjectPath(), ci), bus.ErrObjectExists)

	p := bus.NewProxy(b, counterID.ObjectPath())
	_, err := p.Call(t.Context(), "SetValue", 7)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"Value": 7}}, got())

	v, err := bus.GetAs[int](t.Context(), p, "Value")
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestFeedbackLoop(t *testing.T) {
	t.Parallel()
	b := bus.New()
	svc := &counter{}
	ci := newCounterInterface(b, svc)
	require.NoError(t, module.Register(b, counterID, ci))
	got := changes(t, b)

	p := bus.NewProxy(b, counterID.ObjectPath())
	paths, err := bus.CallAs[[]string](t.Context(), p, "InstallWithTasks")
	require.NoError(t, err)
	require.Equal(t, []string{"/com/czertainly/Modulus/Modules/Counter/Task/1"}, paths)
	require.Zero(t, svc.Value(), "factories do not change the module state")

	tp := bus.NewProxy(b, paths[0])
	_, err = tp.Call(t.Context(), "Start")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got()) == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := tp.Call(t.Context(), "Finish")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 1, svc.Value())
	require.Equal(t, []map[string]any{{"Value": 1}}, got())

	setup, err := bus.CallAs[string](t.Context(), p, "SetUpWithTask")
	require.NoError(t, err)
	require.Empty(t, setup)
}

func TestKickstart(t *testing.T) {
	t.Parallel()
	b := bus.New()
	svc := &counter{}
	ci := newCounterInterface(b, svc)
	require.NoError(t, module.Register(b, counterID, ci))
	p := bus.NewProxy(b, counterID.ObjectPath())

	report, err := bus.CallAs[kickstart.Report](t.Context(), p, "ReadKickstart", "[counter]\nvalue = 3\n\n[other]\nx = 1\n")
	require.NoError(t, err)
	require.True(t, report.IsValid(), report.Errors)
	require.Equal(t, 3, svc.Value())
	require.True(t, svc.Kickstarted())

	text, err := bus.CallAs[string](t.Context(), p, "GenerateKickstart")
	require.NoError(t, err)
	back := &counter{}
	require.True(t, module.ReadKickstart(t.Context(), back, text).IsValid())
	require.Equal(t, 3, back.Value())

	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{scenario: "unknown key", given: "[counter]\nvalue = 1\nmax = 2\n", then: `unknown key "max"`},
		{scenario: "syntax", given: "[counter\n", then: "invalid kickstart"},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			c := &counter{}
			report := module.ReadKickstart(t.Context(), c, tc.given)
			require.False(t, report.IsValid())
			require.Len(t, report.Errors, 1)
			require.Contains(t, report.Errors[0], tc.then)
			require.False(t, c.Kickstarted())
		})
	}
}

func TestCommonMembers(t *testing.T) {
	t.Parallel()
	b := bus.New()
	svc := &counter{}
	ci := newCounterInterface(b, svc)
	require.NoError(t, module.Register(b, counterID, ci))
	p := bus.NewProxy(b, counterID.ObjectPath())

	reqs, err := bus.CallAs[[]module.Requirement](t.Context(), p, "CollectRequirements")
	require.NoError(t, err)
	require.Equal(t, []module.Requirement{
		module.ForPackage("bash", "shell"),
		module.ForPackage("zsh", "shell"),
	}, reqs)

	cmds, err := bus.GetAs[[]string](t.Context(), p, "KickstartCommands")
	require.NoError(t, err)
	require.Equal(t, []string{"counter"}, cmds)

	_, err = p.Call(t.Context(), "Nope")
	require.ErrorIs(t, err, bus.ErrUnknownMember)
	_, err = p.Call(t.Context(), "ReadKickstart")
	require.ErrorIs(t, err, bus.ErrInvalidArgs)

	quit := 0
	ci.Quitting.Connect(func() { quit++ })
	_, err = p.Call(t.Context(), "Quit")
	require.NoError(t, err)
	require.Equal(t, 1, quit)
	_, err = p.Get(t.Context(), "Value")
	require.ErrorIs(t, err, bus.ErrUnknownObject)
}

func TestKickstartedChanged(t *testing.T) {
	t.Parallel()
	var b module.Base
	n := 0
	b.KickstartedChanged.Connect(func() { n++ })
	b.SetKickstarted(true)
	b.SetKickstarted(true)
	b.SetKickstarted(false)
	require.Equal(t, 2, n)
	require.False(t, b.Kickstarted())
	require.Nil(t, b.InstallWithTasks())
	require.Nil(t, b.SetUpWithTask())
	require.Empty(t, b.KickstartCommands())
}
