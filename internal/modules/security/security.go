// Package security is the installer module configuring SELinux,
// authentication tools and realm enrollment of the installed system.
package security

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/shlex"

	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

const realmReason = "Needed to join a realm."

type Service struct {
	module.Base
	sysroot string
	exe     command.Executor

	mx         sync.Mutex
	selinux    SELinuxMode
	authselect []string
	authconfig []string
	realm      RealmData

	SELinuxChanged    signal.Changed
	AuthselectChanged signal.Changed
	AuthconfigChanged signal.Changed
	RealmChanged      signal.Changed
}

func New(sysroot string, exe command.Executor) *Service {
	return &Service{
		sysroot: sysroot,
		exe:     exe,
		selinux: SELinuxDefault,
	}
}

func (s *Service) SELinux() SELinuxMode {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.selinux
}

func (s *Service) SetSELinux(mode SELinuxMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSELinuxMode, int32(mode))
	}
	s.mx.Lock()
	s.selinux = mode
	s.mx.Unlock()
	s.SELinuxChanged.Emit()
	slog.Debug("SELinux is set", "mode", mode.String())
	return nil
}

// Authselect returns arguments of the authselect tool.
func (s *Service) Authselect() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.authselect)
}

func (s *Service) SetAuthselect(args []string) {
	s.mx.Lock()
	s.authselect = slices.Clone(args)
	s.mx.Unlock()
	s.AuthselectChanged.Emit()
	slog.Debug("authselect is set", "args", args)
}

// Authconfig returns arguments of the deprecated authconfig tool.
func (s *Service) Authconfig() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.authconfig)
}

func (s *Service) SetAuthconfig(args []string) {
	s.mx.Lock()
	s.authconfig = slices.Clone(args)
	s.mx.Unlock()
	s.AuthconfigChanged.Emit()
	slog.Debug("authconfig is set", "args", args)
}

func (s *Service) Realm() RealmData {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.realm.Clone()
}

func (s *Service) SetRealm(realm RealmData) {
	s.mx.Lock()
	s.realm = realm.Clone()
	s.mx.Unlock()
	s.RealmChanged.Emit()
	slog.Debug("realm is set", "realm", realm.Name, "discovered", realm.Discovered)
}

func (s *Service) KickstartCommands() []string {
	return []string{"authconfig", "authselect", "realm", "selinux"}
}

type selinuxSection struct {
	Mode string `toml:"mode"`
}

type argsSection struct {
	Args string `toml:"args"`
}

type realmSection struct {
	Join            string   `toml:"join"`
	DiscoverOptions []string `toml:"discover_options,omitempty"`
	JoinOptions     []string `toml:"join_options,omitempty"`
}

// ProcessKickstart decodes and validates all tables before any of them is
// applied, an invalid document leaves the module untouched.
func (s *Service) ProcessKickstart(doc *kickstart.Document) error {
	var (
		sel     selinuxSection
		mode    SELinuxMode
		setMode bool
	)
	if ok, err := doc.Section("selinux", &sel); err != nil {
		return err
	} else if ok {
		m, err := ParseSELinuxMode(sel.Mode)
		if err != nil {
			return fmt.Errorf("%w: [selinux]: %v", kickstart.ErrInvalid, err)
		}
		mode, setMode = m, true
	}

	type toolArgs struct {
		args []string
		set  func([]string)
	}
	var tools []toolArgs
	for _, tool := range []struct {
		name string
		set  func([]string)
	}{
		{name: "authselect", set: s.SetAuthselect},
		{name: "authconfig", set: s.SetAuthconfig},
	} {
		var sec argsSection
		ok, err := doc.Section(tool.name, &sec)
		if err != nil {
			return err
		}
		if !ok || sec.Args == "" {
			continue
		}
		args, err := shlex.Split(sec.Args)
		if err != nil {
			return fmt.Errorf("%w: [%s]: %v", kickstart.ErrInvalid, tool.name, err)
		}
		tools = append(tools, toolArgs{args: args, set: tool.set})
	}

	var realm realmSection
	ok, err := doc.Section("realm", &realm)
	if err != nil {
		return err
	}

	if setMode {
		if err := s.SetSELinux(mode); err != nil {
			return err
		}
	}
	for _, tool := range tools {
		tool.set(tool.args)
	}
	if ok && realm.Join != "" {
		s.SetRealm(RealmData{
			Name:            realm.Join,
			DiscoverOptions: realm.DiscoverOptions,
			JoinOptions:     realm.JoinOptions,
		})
	}
	return nil
}

func (s *Service) SetupKickstart(doc *kickstart.Document) error {
	if mode := s.SELinux(); mode != SELinuxDefault {
		doc.SetSection("selinux", selinuxSection{Mode: mode.String()})
	}
	if args := s.Authselect(); len(args) > 0 {
		doc.SetSection("authselect", argsSection{Args: strings.Join(args, " ")})
	}
	if args := s.Authconfig(); len(args) > 0 {
		doc.SetSection("authconfig", argsSection{Args: strings.Join(args, " ")})
	}
	if realm := s.Realm(); realm.Name != "" {
		doc.SetSection("realm", realmSection{
			Join:            realm.Name,
			DiscoverOptions: realm.DiscoverOptions,
			JoinOptions:     realm.JoinOptions,
		})
	}
	return nil
}

// CollectRequirements returns the packages needed by the realm.
func (s *Service) CollectRequirements() []module.Requirement {
	var ret []module.Requirement
	for _, name := range s.Realm().RequiredPackages {
		ret = append(ret, module.ForPackage(name, realmReason))
	}
	return ret
}

// DiscoverRealmWithTask returns the task discovering the realm. Results of
// a successful discovery replace the realm of the module.
func (s *Service) DiscoverRealmWithTask() *task.Task {
	t := NewRealmDiscoverTask(s.exe, s.Realm())
	t.Succeeded.Connect(func(t *task.Task) {
		realm, err := task.ResultAs[RealmData](t)
		if err != nil {
			slog.Error("unexpected realm discovery result", "error", err)
			return
		}
		slog.Debug("updating realm with the discovery results")
		s.SetRealm(realm)
	})
	return t
}

// JoinRealmWithTask returns the task joining the realm. The task joins the
// realm the module has when the task starts.
func (s *Service) JoinRealmWithTask() *task.Task {
	j := NewRealmJoinTask(s.sysroot, s.exe, s.Realm())
	j.Started.Connect(func(*task.Task) { j.SetRealm(s.Realm()) })
	return j.Task
}

func (s *Service) InstallWithTasks() []*task.Task {
	return []*task.Task{
		NewConfigureSELinuxTask(s.sysroot, s.SELinux()),
	}
}
