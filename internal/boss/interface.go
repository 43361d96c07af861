package boss

import (
	"context"
	"fmt"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/module"
)

func init() {
	errNs := bus.BossNamespace.Join("Error")
	bus.RegisterError(errNs.Join("InstallationFailed").InterfaceName(), ErrInstallationFailed)
	bus.RegisterError(errNs.Join("InstallationRunning").InterfaceName(), ErrInstallationRunning)
}

// Interface is the remote face of the boss.
type Interface struct {
	bus  *bus.Bus
	boss *Boss
	once sync.Once
}

func NewInterface(b *bus.Bus, boss *Boss) *Interface {
	return &Interface{bus: b, boss: boss}
}

// Publish registers the boss service on b.
func Publish(b *bus.Bus, boss *Boss) (*Interface, error) {
	i := NewInterface(b, boss)
	if err := module.Register(b, bus.Boss, i); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Interface) InterfaceName() string { return bus.Boss.InterfaceName() }

func (i *Interface) ConnectSignals() {
	i.once.Do(func() {
		i.boss.CurrentTaskChanged.Connect(func() {
			i.bus.EmitPropertiesChanged(bus.Boss.ObjectPath(), i.InterfaceName(), map[string]any{
				"CurrentTask": i.boss.CurrentTask(),
			})
		})
	})
}

func (i *Interface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "RunInstallation":
		return i.boss.RunInstallation(ctx)
	case "CollectRequirements":
		return i.boss.CollectRequirements(ctx)
	case "GenerateKickstart":
		return i.boss.GenerateKickstart(ctx)
	case "ReadKickstart":
		text, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return i.boss.ReadKickstart(ctx, text)
	default:
		return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, i.InterfaceName(), member)
	}
}

func (i *Interface) Get(_ context.Context, property string) (any, error) {
	switch property {
	case "Modules":
		return i.boss.Modules(), nil
	case "CurrentTask":
		return i.boss.CurrentTask(), nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, i.InterfaceName(), property)
	}
}
