// Package module holds the parts shared by every installer module: the
// service base, the kickstart plumbing and the template of the remote
// interface.
package module

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

// Kickstarter is implemented by modules which own kickstart tables.
type Kickstarter interface {
	// KickstartCommands returns names of the tables the module reads.
	KickstartCommands() []string
	ProcessKickstart(doc *kickstart.Document) error
	SetupKickstart(doc *kickstart.Document) error
	SetKickstarted(bool)
}

// Service is the local side of a module.
//
// Task factories are pure. They read the module state and build tasks, the
// state is changed only by setters and by task results folded back through
// the module's own setters.
type Service interface {
	Kickstarter
	Kickstarted() bool
	SetUpWithTask() *task.Task
	TearDownWithTask() *task.Task
	InstallWithTasks() []*task.Task
	CollectRequirements() []Requirement
}

// Base provides the defaults of Service. Modules embed it and override
// what they need.
type Base struct {
	mx          sync.Mutex
	kickstarted bool

	KickstartedChanged signal.Changed
}

func (b *Base) KickstartCommands() []string { return nil }

func (b *Base) ProcessKickstart(*kickstart.Document) error { return nil }

func (b *Base) SetupKickstart(*kickstart.Document) error { return nil }

// SetUpWithTask returns the task preparing the module, nil when there is
// nothing to do.
func (b *Base) SetUpWithTask() *task.Task { return nil }

func (b *Base) TearDownWithTask() *task.Task { return nil }

func (b *Base) InstallWithTasks() []*task.Task { return nil }

func (b *Base) CollectRequirements() []Requirement { return nil }

func (b *Base) Kickstarted() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.kickstarted
}

func (b *Base) SetKickstarted(v bool) {
	b.mx.Lock()
	changed := b.kickstarted != v
	b.kickstarted = v
	b.mx.Unlock()
	if changed {
		b.KickstartedChanged.Emit()
	}
}

// ReadKickstart parses text and hands it to k. Tables owned by other
// modules are ignored here.
func ReadKickstart(ctx context.Context, k Kickstarter, text string) kickstart.Report {
	var report kickstart.Report
	doc, err := kickstart.Parse(text)
	if err != nil {
		report.AddError(err)
		return report
	}

	owned := k.KickstartCommands()
	if !slices.ContainsFunc(doc.Names(), func(name string) bool { return slices.Contains(owned, name) }) {
		slog.DebugContext(ctx, "kickstart has no tables for module", "tables", owned)
	}

	report.AddError(k.ProcessKickstart(doc))
	if report.IsValid() {
		k.SetKickstarted(true)
	}
	return report
}

// GenerateKickstart returns the kickstart tables of k.
func GenerateKickstart(k Kickstarter) (string, error) {
	doc := kickstart.New()
	if err := k.SetupKickstart(doc); err != nil {
		return "", err
	}
	return doc.String(), nil
}
