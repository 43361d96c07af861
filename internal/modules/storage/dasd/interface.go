package dasd

import (
	"context"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/module"
)

func init() {
	errNs := bus.StorageNamespace.Join("Error")
	bus.RegisterError(errNs.Join("UnavailableStorage").InterfaceName(), ErrUnavailableStorage)
	bus.RegisterError(errNs.Join("UnknownDevice").InterfaceName(), ErrUnknownDevice)
	bus.RegisterError(errNs.Join("StorageDiscovery").InterfaceName(), ErrStorageDiscovery)
}

type Interface struct {
	*module.InterfaceTemplate
	m *Module
}

func NewInterface(b *bus.Bus, m *Module) *Interface {
	tasks := container.NewTaskContainer(b)
	tasks.SetNamespace(bus.StorageNamespace)
	i := &Interface{
		InterfaceTemplate: module.NewInterfaceTemplate(b, bus.DASD, m, tasks),
		m:                 m,
	}
	i.WatchProperty("Discovered", &m.DevicesChanged, func() any { return m.Discovered() })
	i.WatchProperty("FormatUnrecognizedEnabled", &m.FormatUnrecognizedChanged, func() any {
		v, _ := m.FormatPolicy()
		return v
	})
	i.WatchProperty("FormatLDLEnabled", &m.FormatLDLChanged, func() any {
		_, v := m.FormatPolicy()
		return v
	})
	return i
}

// Publish registers the storage service and publishes the DASD module.
func Publish(b *bus.Bus, m *Module) (*Interface, error) {
	if err := b.RegisterService(bus.Storage.ServiceName()); err != nil {
		return nil, err
	}
	i := NewInterface(b, m)
	if err := module.Publish(b, bus.DASD.ObjectPath(), i); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Interface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "DiscoverWithTask":
		devnum, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return i.TaskPath(i.m.DiscoverWithTask(devnum))
	case "FormatWithTask":
		dasds, err := bus.Arg[[]string](args, 0)
		if err != nil {
			return nil, err
		}
		return i.TaskPath(i.m.FormatWithTask(dasds))
	case "FindFormattable":
		names, err := bus.Arg[[]string](args, 0)
		if err != nil {
			return nil, err
		}
		return i.m.FindFormattable(ctx, names)
	case "Rescan":
		return nil, i.m.Rescan()
	case "SetFormatUnrecognizedEnabled":
		v, err := bus.Arg[bool](args, 0)
		if err != nil {
			return nil, err
		}
		i.m.OnFormatUnrecognizedEnabledChanged(v)
		return nil, nil
	case "SetFormatLDLEnabled":
		v, err := bus.Arg[bool](args, 0)
		if err != nil {
			return nil, err
		}
		i.m.OnFormatLDLEnabledChanged(v)
		return nil, nil
	default:
		return i.CallCommon(ctx, member, args)
	}
}

func (i *Interface) Get(ctx context.Context, property string) (any, error) {
	switch property {
	case "Discovered":
		return i.m.Discovered(), nil
	case "FormatUnrecognizedEnabled":
		v, _ := i.m.FormatPolicy()
		return v, nil
	case "FormatLDLEnabled":
		_, v := i.m.FormatPolicy()
		return v, nil
	default:
		return i.GetCommon(ctx, property)
	}
}
