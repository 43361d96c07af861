package payloads

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

const defaultCDROM = "/dev/cdrom"

// Service is the payloads module. It creates payloads and sources and
// installs the system with the active payload.
type Service struct {
	module.Base
	exe      command.Executor
	sysroot  string
	mountDir string

	mx     sync.Mutex
	active Payload

	ActivePayloadChanged signal.Changed
}

func New(exe command.Executor, sysroot, mountDir string) *Service {
	return &Service{
		exe:      exe,
		sysroot:  sysroot,
		mountDir: mountDir,
	}
}

func (s *Service) CreatePayload(typ PayloadType) (Payload, error) {
	switch typ {
	case PayloadDNF:
		return NewDNF(s.exe, s.sysroot), nil
	case PayloadLiveOS:
		return NewLiveOS(s.exe, s.sysroot), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadType, typ)
	}
}

func (s *Service) CreateSource(typ SourceType) (Source, error) {
	return NewSource(typ, s.exe, s.mountDir)
}

func (s *Service) ActivePayload() Payload {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.active
}

func (s *Service) ActivatePayload(p Payload) {
	s.mx.Lock()
	changed := s.active != p
	s.active = p
	s.mx.Unlock()
	if changed && p != nil {
		slog.Debug("payload activated", "type", p.Type())
	}
	if changed {
		s.ActivePayloadChanged.Emit()
	}
}

func (s *Service) KickstartCommands() []string {
	return []string{"cdrom", "liveimg", "nfs", "packages", "url"}
}

type liveimgSection struct {
	Image string `toml:"image"`
}

type urlSection struct {
	URL string `toml:"url"`
}

type nfsSection struct {
	Server string `toml:"server"`
	Dir    string `toml:"dir"`
}

type cdromSection struct {
	Device string `toml:"device,omitempty"`
}

// ProcessKickstart creates and activates the payload described by doc. A
// live image excludes the package based sections.
func (s *Service) ProcessKickstart(doc *kickstart.Document) error {
	var dnfTables []string
	for _, name := range []string{"cdrom", "nfs", "packages", "url"} {
		if doc.Has(name) {
			dnfTables = append(dnfTables, name)
		}
	}

	var img liveimgSection
	ok, err := doc.Section("liveimg", &img)
	if err != nil {
		return err
	}
	if ok {
		if len(dnfTables) > 0 {
			return fmt.Errorf("%w: [liveimg] can't be combined with [%s]", kickstart.ErrInvalid, strings.Join(dnfTables, "], ["))
		}
		return s.activateLiveOS(img.Image)
	}
	if len(dnfTables) > 0 {
		return s.activateDNF(doc)
	}
	return nil
}

func (s *Service) activateLiveOS(image string) error {
	if image == "" {
		return fmt.Errorf("%w: [liveimg]: image is required", kickstart.ErrInvalid)
	}
	p := NewLiveOS(s.exe, s.sysroot)
	src, err := s.CreateSource(SourceLiveOS)
	if err != nil {
		return err
	}
	src.SetLocation(image)
	if err := p.SetSources([]Source{src}); err != nil {
		return err
	}
	s.ActivatePayload(p)
	return nil
}

func (s *Service) activateDNF(doc *kickstart.Document) error {
	var sources []Source
	add := func(typ SourceType, location string) error {
		src, err := s.CreateSource(typ)
		if err != nil {
			return err
		}
		src.SetLocation(location)
		sources = append(sources, src)
		return nil
	}

	var cdrom cdromSection
	if ok, err := doc.Section("cdrom", &cdrom); err != nil {
		return err
	} else if ok {
		if cdrom.Device == "" {
			cdrom.Device = defaultCDROM
		}
		if err := add(SourceCDROM, cdrom.Device); err != nil {
			return err
		}
	}
	var nfs nfsSection
	if ok, err := doc.Section("nfs", &nfs); err != nil {
		return err
	} else if ok {
		if nfs.Server == "" || nfs.Dir == "" {
			return fmt.Errorf("%w: [nfs]: server and dir are required", kickstart.ErrInvalid)
		}
		if err := add(SourceNFS, nfs.Server+":"+nfs.Dir); err != nil {
			return err
		}
	}
	var url urlSection
	if ok, err := doc.Section("url", &url); err != nil {
		return err
	} else if ok {
		if url.URL == "" {
			return fmt.Errorf("%w: [url]: url is required", kickstart.ErrInvalid)
		}
		if err := add(SourceURL, url.URL); err != nil {
			return err
		}
	}

	p := NewDNF(s.exe, s.sysroot)
	if err := p.ProcessKickstart(doc); err != nil {
		return err
	}
	if err := p.SetSources(sources); err != nil {
		return err
	}
	s.ActivatePayload(p)
	return nil
}

func (s *Service) SetupKickstart(doc *kickstart.Document) error {
	p := s.ActivePayload()
	if p == nil {
		return nil
	}
	for _, src := range p.Sources() {
		switch src.Type() {
		case SourceLiveOS:
			doc.SetSection("liveimg", liveimgSection{Image: src.Location()})
		case SourceURL:
			doc.SetSection("url", urlSection{URL: src.Location()})
		case SourceCDROM:
			doc.SetSection("cdrom", cdromSection{Device: src.Location()})
		case SourceNFS:
			server, dir, _ := strings.Cut(src.Location(), ":")
			doc.SetSection("nfs", nfsSection{Server: server, Dir: dir})
		}
	}
	return p.SetupKickstart(doc)
}

// SetUpWithTask sets up the sources of the active payload.
func (s *Service) SetUpWithTask() *task.Task {
	if p := s.ActivePayload(); p != nil {
		return p.SetUpSourcesWithTask()
	}
	return nil
}

func (s *Service) TearDownWithTask() *task.Task {
	if p := s.ActivePayload(); p != nil {
		return p.TearDownSourcesWithTask()
	}
	return nil
}

// InstallWithTasks returns the pre install, install and post install tasks
// of the active payload.
func (s *Service) InstallWithTasks() []*task.Task {
	if p := s.ActivePayload(); p != nil {
		return allTasks(p)
	}
	return nil
}

func (s *Service) CollectRequirements() []module.Requirement {
	if p := s.ActivePayload(); p != nil {
		return p.CollectRequirements()
	}
	return nil
}
