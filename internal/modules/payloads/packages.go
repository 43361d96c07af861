package payloads

import (
	"slices"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/signal"
)

// Selection is the software to install with a package manager.
type Selection struct {
	Core             bool     `toml:"core"`
	Environment      string   `toml:"environment,omitempty"`
	Groups           []string `toml:"groups,omitempty"`
	Packages         []string `toml:"packages,omitempty"`
	ExcludedPackages []string `toml:"excluded,omitempty"`
}

func DefaultSelection() Selection {
	return Selection{Core: true}
}

// Specs returns the install specifications understood by dnf.
func (s Selection) Specs() []string {
	var ret []string
	if s.Core {
		ret = append(ret, "@core")
	}
	if s.Environment != "" {
		ret = append(ret, "@^"+s.Environment)
	}
	for _, g := range s.Groups {
		ret = append(ret, "@"+g)
	}
	return append(ret, s.Packages...)
}

func (s Selection) Clone() Selection {
	s.Groups = slices.Clone(s.Groups)
	s.Packages = slices.Clone(s.Packages)
	s.ExcludedPackages = slices.Clone(s.ExcludedPackages)
	return s
}

func (s Selection) Equal(o Selection) bool {
	return s.Core == o.Core &&
		s.Environment == o.Environment &&
		slices.Equal(s.Groups, o.Groups) &&
		slices.Equal(s.Packages, o.Packages) &&
		slices.Equal(s.ExcludedPackages, o.ExcludedPackages)
}

// Packages is the submodule of a DNF payload holding the package selection.
type Packages struct {
	module.Base

	mx        sync.Mutex
	selection Selection

	SelectionChanged signal.Changed
}

func NewPackages() *Packages {
	return &Packages{selection: DefaultSelection()}
}

func (p *Packages) Selection() Selection {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.selection.Clone()
}

func (p *Packages) SetSelection(s Selection) {
	p.mx.Lock()
	changed := !p.selection.Equal(s)
	p.selection = s.Clone()
	p.mx.Unlock()
	if changed {
		p.SelectionChanged.Emit()
	}
}

func (p *Packages) update(f func(*Selection)) {
	s := p.Selection()
	f(&s)
	p.SetSelection(s)
}

func (p *Packages) SetCore(v bool) { p.update(func(s *Selection) { s.Core = v }) }

func (p *Packages) SetEnvironment(v string) { p.update(func(s *Selection) { s.Environment = v }) }

func (p *Packages) SetGroups(v []string) { p.update(func(s *Selection) { s.Groups = v }) }

func (p *Packages) SetPackages(v []string) { p.update(func(s *Selection) { s.Packages = v }) }

func (p *Packages) SetExcludedPackages(v []string) {
	p.update(func(s *Selection) { s.ExcludedPackages = v })
}

func (p *Packages) KickstartCommands() []string { return []string{"packages"} }

func (p *Packages) ProcessKickstart(doc *kickstart.Document) error {
	sel := DefaultSelection()
	ok, err := doc.Section("packages", &sel)
	if err != nil || !ok {
		return err
	}
	p.SetSelection(sel)
	return nil
}

func (p *Packages) SetupKickstart(doc *kickstart.Document) error {
	doc.SetSection("packages", p.Selection())
	return nil
}
