package security

import (
	"context"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/module"
)

func init() {
	bus.RegisterError(bus.SecurityNamespace.Join("Error", "InvalidSELinuxMode").InterfaceName(), ErrInvalidSELinuxMode)
}

// Interface is the remote face of the security module.
type Interface struct {
	*module.InterfaceTemplate
	svc *Service
}

func NewInterface(b *bus.Bus, svc *Service) *Interface {
	tasks := container.NewTaskContainer(b)
	tasks.SetNamespace(bus.SecurityNamespace)
	i := &Interface{
		InterfaceTemplate: module.NewInterfaceTemplate(b, bus.Security, svc, tasks),
		svc:               svc,
	}
	i.WatchProperty("SELinux", &svc.SELinuxChanged, func() any { return int32(svc.SELinux()) })
	i.WatchProperty("Authselect", &svc.AuthselectChanged, func() any { return svc.Authselect() })
	i.WatchProperty("Authconfig", &svc.AuthconfigChanged, func() any { return svc.Authconfig() })
	i.WatchProperty("Realm", &svc.RealmChanged, func() any { return svc.Realm() })
	i.WatchProperty("Kickstarted", &svc.KickstartedChanged, func() any { return svc.Kickstarted() })
	return i
}

// Publish registers the security service on b.
func Publish(b *bus.Bus, svc *Service) (*Interface, error) {
	i := NewInterface(b, svc)
	if err := module.Register(b, bus.Security, i); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Interface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "SetSELinux":
		mode, err := bus.Arg[int32](args, 0)
		if err != nil {
			return nil, err
		}
		return nil, i.svc.SetSELinux(SELinuxMode(mode))
	case "SetAuthselect":
		v, err := bus.Arg[[]string](args, 0)
		if err != nil {
			return nil, err
		}
		i.svc.SetAuthselect(v)
		return nil, nil
	case "SetAuthconfig":
		v, err := bus.Arg[[]string](args, 0)
		if err != nil {
			return nil, err
		}
		i.svc.SetAuthconfig(v)
		return nil, nil
	case "SetRealm":
		v, err := bus.Arg[RealmData](args, 0)
		if err != nil {
			return nil, err
		}
		i.svc.SetRealm(v)
		return nil, nil
	case "DiscoverRealmWithTask":
		return i.TaskPath(i.svc.DiscoverRealmWithTask())
	case "JoinRealmWithTask":
		return i.TaskPath(i.svc.JoinRealmWithTask())
	default:
		return i.CallCommon(ctx, member, args)
	}
}

func (i *Interface) Get(ctx context.Context, property string) (any, error) {
	switch property {
	case "SELinux":
		return int32(i.svc.SELinux()), nil
	case "Authselect":
		return i.svc.Authselect(), nil
	case "Authconfig":
		return i.svc.Authconfig(), nil
	case "Realm":
		return i.svc.Realm(), nil
	default:
		return i.GetCommon(ctx, property)
	}
}
