package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

func init() {
	bus.RegisterError(bus.ModulusNamespace.Join("Error", "Kickstart", "Invalid").InterfaceName(), kickstart.ErrInvalid)
}

// Identifier is implemented by bus.ObjectIdentifier and bus.ServiceIdentifier.
type Identifier interface {
	ObjectPath() string
	InterfaceName() string
}

// Connector is a published object with local signals to connect.
type Connector interface {
	bus.Object
	ConnectSignals()
}

type watched struct {
	name string
	sig  *signal.Changed
	get  func() any
}

// InterfaceTemplate is embedded by the remote interfaces of modules. It
// serves the members common to all modules and pushes PropertiesChanged
// for watched properties.
//
// A concrete interface handles its own members first and falls back to
// CallCommon and GetCommon.
type InterfaceTemplate struct {
	bus     *bus.Bus
	path    string
	iface   string
	service Service
	tasks   *container.TaskContainer

	once    sync.Once
	watched []watched

	// Quitting is emitted when a remote caller asks the module to quit.
	Quitting signal.Changed
}

func NewInterfaceTemplate(b *bus.Bus, id Identifier, service Service, tasks *container.TaskContainer) *InterfaceTemplate {
	return &InterfaceTemplate{
		bus:     b,
		path:    id.ObjectPath(),
		iface:   id.InterfaceName(),
		service: service,
		tasks:   tasks,
	}
}

func (it *InterfaceTemplate) InterfaceName() string { return it.iface }

func (it *InterfaceTemplate) Path() string { return it.path }

func (it *InterfaceTemplate) Bus() *bus.Bus { return it.bus }

// WatchProperty pushes PropertiesChanged of name with the value of get
// every time sig fires. Takes effect in ConnectSignals.
func (it *InterfaceTemplate) WatchProperty(name string, sig *signal.Changed, get func() any) {
	it.watched = append(it.watched, watched{name: name, sig: sig, get: get})
}

// ConnectSignals connects watched properties. Only the first call has an
// effect.
func (it *InterfaceTemplate) ConnectSignals() {
	it.once.Do(func() {
		for _, w := range it.watched {
			w.sig.Connect(func() {
				it.bus.EmitPropertiesChanged(it.path, it.iface, map[string]any{w.name: w.get()})
			})
		}
	})
}

// TaskPath publishes t. A nil task has the empty path.
func (it *InterfaceTemplate) TaskPath(t *task.Task) (string, error) {
	if t == nil {
		return "", nil
	}
	return it.tasks.ToObjectPath(t)
}

func (it *InterfaceTemplate) TaskPaths(tasks []*task.Task) ([]string, error) {
	return it.tasks.ToObjectPathList(tasks)
}

// CallCommon serves the members every module has.
func (it *InterfaceTemplate) CallCommon(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "ReadKickstart":
		text, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return ReadKickstart(ctx, it.service, text), nil
	case "GenerateKickstart":
		return GenerateKickstart(it.service)
	case "SetUpWithTask":
		return it.TaskPath(it.service.SetUpWithTask())
	case "TearDownWithTask":
		return it.TaskPath(it.service.TearDownWithTask())
	case "InstallWithTasks":
		return it.TaskPaths(it.service.InstallWithTasks())
	case "CollectRequirements":
		return it.service.CollectRequirements(), nil
	case "Quit":
		it.bus.UnpublishObject(it.path)
		it.Quitting.Emit()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, it.iface, member)
	}
}

// GetCommon serves the properties every module has.
func (it *InterfaceTemplate) GetCommon(_ context.Context, property string) (any, error) {
	switch property {
	case "KickstartCommands":
		return it.service.KickstartCommands(), nil
	case "Kickstarted":
		return it.service.Kickstarted(), nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, it.iface, property)
	}
}

// Publish connects the signals of obj and publishes it at path.
func Publish(b *bus.Bus, path string, obj Connector) error {
	obj.ConnectSignals()
	return b.PublishObject(path, obj)
}

// Register claims the service name of id and publishes obj at its path.
func Register(b *bus.Bus, id bus.ServiceIdentifier, obj Connector) error {
	if err := b.RegisterService(id.ServiceName()); err != nil {
		return err
	}
	return Publish(b, id.ObjectPath(), obj)
}
