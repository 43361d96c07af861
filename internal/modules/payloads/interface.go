package payloads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/module"
)

func init() {
	errNs := bus.PayloadsNamespace.Join("Error")
	bus.RegisterError(errNs.Join("IncompatibleSource").InterfaceName(), ErrIncompatibleSource)
	bus.RegisterError(errNs.Join("SourceSetup").InterfaceName(), ErrSourceSetup)
	bus.RegisterError(errNs.Join("UnknownPayloadType").InterfaceName(), ErrUnknownPayloadType)
	bus.RegisterError(errNs.Join("UnknownSourceType").InterfaceName(), ErrUnknownSourceType)
	bus.RegisterError(errNs.Join("NoActivePayload").InterfaceName(), ErrNoActivePayload)
	bus.RegisterError(errNs.Join("UnavailableSource").InterfaceName(), ErrUnavailableSource)
	bus.RegisterError(errNs.Join("PackageManagement").InterfaceName(), ErrPackageManagement)
	bus.RegisterError(errNs.Join("ImageInstallation").InterfaceName(), ErrImageInstallation)
}

// objectID identifies an object published through a container.
type objectID struct {
	path  string
	iface string
}

func (o objectID) ObjectPath() string { return o.path }

func (o objectID) InterfaceName() string { return o.iface }

// Interface is the remote face of the payloads service. Payloads and
// sources it creates are published lazily, the first time their path is
// handed out.
type Interface struct {
	*module.InterfaceTemplate
	svc      *Service
	tasks    *container.TaskContainer
	payloads *container.Container[Payload]
	sources  *container.Container[Source]
}

func NewInterface(b *bus.Bus, svc *Service) *Interface {
	tasks := container.NewTaskContainer(b)
	tasks.SetNamespace(bus.PayloadsNamespace)
	i := &Interface{
		InterfaceTemplate: module.NewInterfaceTemplate(b, bus.Payloads, svc, tasks),
		svc:               svc,
		tasks:             tasks,
	}
	i.sources = container.New(b, "Source", func(_ string, s Source) bus.Object {
		return &SourceInterface{src: s, tasks: tasks}
	})
	i.sources.SetNamespace(bus.PayloadsNamespace)
	i.payloads = container.New(b, "Payload", func(path string, p Payload) bus.Object {
		pi := newPayloadInterface(b, path, p, tasks, i.sources)
		pi.ConnectSignals()
		return pi
	})
	i.payloads.SetNamespace(bus.PayloadsNamespace)

	i.WatchProperty("ActivePayload", &svc.ActivePayloadChanged, func() any {
		path, err := i.activePath()
		if err != nil {
			slog.Warn("can't publish the active payload", "error", err)
		}
		return path
	})
	return i
}

// Publish registers the payloads service on b.
func Publish(b *bus.Bus, svc *Service) (*Interface, error) {
	i := NewInterface(b, svc)
	if err := module.Register(b, bus.Payloads, i); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Interface) activePath() (string, error) {
	p := i.svc.ActivePayload()
	if p == nil {
		return "", nil
	}
	return i.payloads.ToObjectPath(p)
}

func (i *Interface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "CreatePayload":
		typ, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		p, err := i.svc.CreatePayload(PayloadType(typ))
		if err != nil {
			return nil, err
		}
		return i.payloads.ToObjectPath(p)
	case "CreateSource":
		typ, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		s, err := i.svc.CreateSource(SourceType(typ))
		if err != nil {
			return nil, err
		}
		return i.sources.ToObjectPath(s)
	case "ActivatePayload":
		path, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		p, err := i.payloads.FromObjectPath(path)
		if err != nil {
			return nil, err
		}
		i.svc.ActivatePayload(p)
		return nil, nil
	default:
		return i.CallCommon(ctx, member, args)
	}
}

func (i *Interface) Get(ctx context.Context, property string) (any, error) {
	switch property {
	case "ActivePayload":
		return i.activePath()
	default:
		return i.GetCommon(ctx, property)
	}
}

// PayloadInterface is the remote face of a payload.
type PayloadInterface struct {
	*module.InterfaceTemplate
	p       Payload
	tasks   *container.TaskContainer
	sources *container.Container[Source]

	packagesOnce sync.Once
	packagesPath string
	packagesErr  error
}

func payloadInterfaceName(p Payload) string {
	if p.Type() == PayloadLiveOS {
		return bus.LiveOSInterface
	}
	return bus.DNFInterface
}

func newPayloadInterface(b *bus.Bus, path string, p Payload, tasks *container.TaskContainer, sources *container.Container[Source]) *PayloadInterface {
	pi := &PayloadInterface{
		InterfaceTemplate: module.NewInterfaceTemplate(b, objectID{path: path, iface: payloadInterfaceName(p)}, p, tasks),
		p:                 p,
		tasks:             tasks,
		sources:           sources,
	}
	sig := p.Signals()
	pi.WatchProperty("Sources", &sig.SourcesChanged, func() any {
		paths, err := sources.ToObjectPathList(p.Sources())
		if err != nil {
			slog.Warn("can't publish payload sources", "error", err)
		}
		return paths
	})
	pi.WatchProperty("RequiredSpace", &sig.RequiredSpaceChanged, func() any { return p.RequiredSpace() })
	return pi
}

func (pi *PayloadInterface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "SetSources":
		paths, err := bus.Arg[[]string](args, 0)
		if err != nil {
			return nil, err
		}
		sources, err := pi.sources.FromObjectPathList(paths)
		if err != nil {
			return nil, err
		}
		return nil, pi.p.SetSources(sources)
	case "HasSource":
		return pi.p.HasSource(), nil
	case "SetUpSourcesWithTask":
		return pi.TaskPath(pi.p.SetUpSourcesWithTask())
	case "TearDownSourcesWithTask":
		return pi.TaskPath(pi.p.TearDownSourcesWithTask())
	case "PreInstallWithTasks":
		return pi.TaskPaths(pi.p.PreInstallWithTasks())
	case "PostInstallWithTasks":
		return pi.TaskPaths(pi.p.PostInstallWithTasks())
	default:
		return pi.CallCommon(ctx, member, args)
	}
}

func (pi *PayloadInterface) Get(ctx context.Context, property string) (any, error) {
	switch property {
	case "Type":
		return string(pi.p.Type()), nil
	case "RequiredSpace":
		return pi.p.RequiredSpace(), nil
	case "SupportedSourceTypes":
		var ret []string
		for _, t := range pi.p.SupportedSourceTypes() {
			ret = append(ret, string(t))
		}
		return ret, nil
	case "Sources":
		return pi.sources.ToObjectPathList(pi.p.Sources())
	case "Packages":
		dnf, ok := pi.p.(*DNF)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, pi.InterfaceName(), property)
		}
		return pi.publishPackages(dnf)
	default:
		return pi.GetCommon(ctx, property)
	}
}

// publishPackages publishes the package selection of dnf under the payload
// path.
func (pi *PayloadInterface) publishPackages(dnf *DNF) (string, error) {
	pi.packagesOnce.Do(func() {
		path := pi.Path() + "/Packages"
		ppi := NewPackagesInterface(pi.Bus(), path, dnf.Packages(), pi.tasks)
		if err := module.Publish(pi.Bus(), path, ppi); err != nil {
			pi.packagesErr = err
			return
		}
		pi.packagesPath = path
	})
	return pi.packagesPath, pi.packagesErr
}

// PackagesInterface is the remote face of the package selection.
type PackagesInterface struct {
	*module.InterfaceTemplate
	pkgs *Packages
}

func NewPackagesInterface(b *bus.Bus, path string, pkgs *Packages, tasks *container.TaskContainer) *PackagesInterface {
	ppi := &PackagesInterface{
		InterfaceTemplate: module.NewInterfaceTemplate(b, objectID{path: path, iface: bus.PackagesInterface}, pkgs, tasks),
		pkgs:              pkgs,
	}
	for _, name := range []string{"Core", "Environment", "Groups", "Packages", "ExcludedPackages"} {
		ppi.WatchProperty(name, &pkgs.SelectionChanged, func() any {
			v, _ := ppi.property(name)
			return v
		})
	}
	return ppi
}

func (ppi *PackagesInterface) property(name string) (any, bool) {
	sel := ppi.pkgs.Selection()
	switch name {
	case "Core":
		return sel.Core, true
	case "Environment":
		return sel.Environment, true
	case "Groups":
		return sel.Groups, true
	case "Packages":
		return sel.Packages, true
	case "ExcludedPackages":
		return sel.ExcludedPackages, true
	default:
		return nil, false
	}
}

func (ppi *PackagesInterface) Call(ctx context.Context, member string, args []any) (any, error) {
	switch member {
	case "SetCore":
		v, err := bus.Arg[bool](args, 0)
		if err != nil {
			return nil, err
		}
		ppi.pkgs.SetCore(v)
		return nil, nil
	case "SetEnvironment":
		v, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		ppi.pkgs.SetEnvironment(v)
		return nil, nil
	case "SetGroups", "SetPackages", "SetExcludedPackages":
		v, err := bus.Arg[[]string](args, 0)
		if err != nil {
			return nil, err
		}
		switch member {
		case "SetGroups":
			ppi.pkgs.SetGroups(v)
		case "SetPackages":
			ppi.pkgs.SetPackages(v)
		default:
			ppi.pkgs.SetExcludedPackages(v)
		}
		return nil, nil
	default:
		return ppi.CallCommon(ctx, member, args)
	}
}

func (ppi *PackagesInterface) Get(ctx context.Context, property string) (any, error) {
	if v, ok := ppi.property(property); ok {
		return v, nil
	}
	return ppi.GetCommon(ctx, property)
}

// SourceInterface is the remote face of a source.
type SourceInterface struct {
	src   Source
	tasks *container.TaskContainer
}

func (si *SourceInterface) InterfaceName() string { return bus.SourceInterface }

func (si *SourceInterface) Call(_ context.Context, member string, args []any) (any, error) {
	switch member {
	case "SetLocation":
		v, err := bus.Arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		si.src.SetLocation(v)
		return nil, nil
	case "SetUpWithTask":
		return si.tasks.ToObjectPath(si.src.SetUpWithTask())
	case "TearDownWithTask":
		return si.tasks.ToObjectPath(si.src.TearDownWithTask())
	default:
		return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, si.InterfaceName(), member)
	}
}

func (si *SourceInterface) Get(_ context.Context, property string) (any, error) {
	switch property {
	case "Type":
		return string(si.src.Type()), nil
	case "Location":
		return si.src.Location(), nil
	case "Initialized":
		return si.src.Initialized(), nil
	case "RequiredSpace":
		return si.src.RequiredSpace(), nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", bus.ErrUnknownMember, si.InterfaceName(), property)
	}
}
