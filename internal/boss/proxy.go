package boss

import (
	"context"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

// ModuleProxy calls the common members of a module over the bus.
type ModuleProxy struct {
	bus.Proxy
}

func NewModuleProxy(b *bus.Bus, path string) ModuleProxy {
	return ModuleProxy{Proxy: bus.NewProxy(b, path)}
}

func (m ModuleProxy) KickstartCommands(ctx context.Context) ([]string, error) {
	return bus.GetAs[[]string](ctx, m.Proxy, "KickstartCommands")
}

func (m ModuleProxy) ReadKickstart(ctx context.Context, text string) (kickstart.Report, error) {
	return bus.CallAs[kickstart.Report](ctx, m.Proxy, "ReadKickstart", text)
}

func (m ModuleProxy) GenerateKickstart(ctx context.Context) (string, error) {
	return bus.CallAs[string](ctx, m.Proxy, "GenerateKickstart")
}

func (m ModuleProxy) CollectRequirements(ctx context.Context) ([]module.Requirement, error) {
	return bus.CallAs[[]module.Requirement](ctx, m.Proxy, "CollectRequirements")
}

// SetUpWithTask returns the path of the set up task, empty when the module
// has nothing to set up.
func (m ModuleProxy) SetUpWithTask(ctx context.Context) (string, error) {
	return bus.CallAs[string](ctx, m.Proxy, "SetUpWithTask")
}

func (m ModuleProxy) TearDownWithTask(ctx context.Context) (string, error) {
	return bus.CallAs[string](ctx, m.Proxy, "TearDownWithTask")
}

func (m ModuleProxy) InstallWithTasks(ctx context.Context) ([]string, error) {
	return bus.CallAs[[]string](ctx, m.Proxy, "InstallWithTasks")
}

// TaskProxy controls a published task.
type TaskProxy struct {
	bus.Proxy
}

func NewTaskProxy(b *bus.Bus, path string) TaskProxy {
	return TaskProxy{Proxy: bus.NewProxy(b, path)}
}

func (t TaskProxy) Name(ctx context.Context) (string, error) {
	return bus.GetAs[string](ctx, t.Proxy, "Name")
}

func (t TaskProxy) Progress(ctx context.Context) (task.Progress, error) {
	return bus.GetAs[task.Progress](ctx, t.Proxy, "Progress")
}

func (t TaskProxy) Start(ctx context.Context) error {
	_, err := t.Call(ctx, "Start")
	return err
}

func (t TaskProxy) Cancel(ctx context.Context) error {
	_, err := t.Call(ctx, "Cancel")
	return err
}

func (t TaskProxy) IsRunning(ctx context.Context) (bool, error) {
	return bus.CallAs[bool](ctx, t.Proxy, "IsRunning")
}

// Finish returns the failure of a terminal task, nil when it succeeded.
func (t TaskProxy) Finish(ctx context.Context) error {
	_, err := t.Call(ctx, "Finish")
	return err
}
