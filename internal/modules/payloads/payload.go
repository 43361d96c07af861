// Package payloads implements the payloads module: the payload objects
// installing the system and the sources they read data from.
package payloads

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

var (
	ErrIncompatibleSource = errors.New("incompatible source")
	ErrSourceSetup        = errors.New("source setup")
	ErrUnknownPayloadType = errors.New("unknown payload type")
	ErrUnknownSourceType  = errors.New("unknown source type")
	ErrNoActivePayload    = errors.New("no active payload")
	ErrUnavailableSource  = errors.New("payload has no source")
	ErrPackageManagement  = errors.New("package management")
	ErrImageInstallation  = errors.New("image installation")
)

type PayloadType string

const (
	PayloadDNF    PayloadType = "DNF"
	PayloadLiveOS PayloadType = "LIVE_OS"
)

// Payload installs the system from its sources.
type Payload interface {
	module.Service
	Type() PayloadType
	SupportedSourceTypes() []SourceType
	Sources() []Source
	SetSources([]Source) error
	HasSource() bool
	RequiredSpace() uint64
	SetUpSourcesWithTask() *task.Task
	TearDownSourcesWithTask() *task.Task
	PreInstallWithTasks() []*task.Task
	PostInstallWithTasks() []*task.Task
	// Signals returns the signals of the payload properties.
	Signals() *PayloadSignals
}

type PayloadSignals struct {
	SourcesChanged       signal.Changed
	RequiredSpaceChanged signal.Changed
}

// Base holds the source attachment shared by all payloads.
type Base struct {
	module.Base
	PayloadSignals

	supported []SourceType

	mx            sync.Mutex
	sources       []Source
	requiredSpace uint64
}

func (p *Base) SupportedSourceTypes() []SourceType {
	return slices.Clone(p.supported)
}

func (p *Base) Sources() []Source {
	p.mx.Lock()
	defer p.mx.Unlock()
	return slices.Clone(p.sources)
}

// SetSources replaces the attached sources. Sources of unsupported types
// and replacing sources which are set up are rejected, the payload is left
// untouched then.
func (p *Base) SetSources(sources []Source) error {
	for _, s := range sources {
		if !slices.Contains(p.supported, s.Type()) {
			return fmt.Errorf("%w: %s is not supported", ErrIncompatibleSource, s.Type())
		}
	}

	p.mx.Lock()
	for _, s := range p.sources {
		if s.Initialized() {
			p.mx.Unlock()
			return fmt.Errorf("%w: %s source is set up", ErrSourceSetup, s.Type())
		}
	}
	p.sources = slices.Clone(sources)
	p.mx.Unlock()

	p.SourcesChanged.Emit()
	return nil
}

func (p *Base) HasSource() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return len(p.sources) > 0
}

func (p *Base) RequiredSpace() uint64 {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.requiredSpace
}

// SetRequiredSpace updates the space needed by the payload.
func (p *Base) SetRequiredSpace(v uint64) {
	p.mx.Lock()
	changed := p.requiredSpace != v
	p.requiredSpace = v
	p.mx.Unlock()
	if changed {
		p.RequiredSpaceChanged.Emit()
	}
}

func (p *Base) Signals() *PayloadSignals { return &p.PayloadSignals }

// SetUpSourcesWithTask sets up the attached sources in order.
func (p *Base) SetUpSourcesWithTask() *task.Task {
	sources := p.Sources()
	return task.New("Set up installation sources", func(ctx context.Context, r *task.Reporter) (any, error) {
		for i, s := range sources {
			if err := r.Checkpoint(); err != nil {
				return nil, err
			}
			r.Report(i, "setting up "+string(s.Type())+" source")
			if err := runNested(ctx, s.SetUpWithTask()); err != nil {
				return nil, err
			}
		}
		r.Report(len(sources), "sources set up")
		return nil, nil
	}, task.WithSteps(len(sources)))
}

// TearDownSourcesWithTask tears down the attached sources in reverse order.
// All sources are attempted.
func (p *Base) TearDownSourcesWithTask() *task.Task {
	sources := p.Sources()
	return task.New("Tear down installation sources", func(ctx context.Context, r *task.Reporter) (any, error) {
		var errs []error
		for i, s := range slices.Backward(sources) {
			r.Report(len(sources)-1-i, "tearing down "+string(s.Type())+" source")
			errs = append(errs, runNested(ctx, s.TearDownWithTask()))
		}
		r.Report(len(sources), "sources torn down")
		return nil, errors.Join(errs...)
	}, task.WithSteps(len(sources)), task.WithCancellable(false))
}

func (p *Base) PreInstallWithTasks() []*task.Task { return nil }

func (p *Base) PostInstallWithTasks() []*task.Task { return nil }

// runNested runs t to completion as a part of another task and returns the
// cause of its failure.
func runNested(ctx context.Context, t *task.Task) error {
	err := t.Run(ctx)
	var eerr *task.ExecutionError
	if errors.As(err, &eerr) {
		return eerr.Err
	}
	return err
}

// allTasks returns the pre install, install and post install tasks of p.
func allTasks(p Payload) []*task.Task {
	var ret []*task.Task
	ret = append(ret, p.PreInstallWithTasks()...)
	ret = append(ret, p.InstallWithTasks()...)
	ret = append(ret, p.PostInstallWithTasks()...)
	return ret
}
