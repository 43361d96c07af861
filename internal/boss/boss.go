// Package boss drives an installation over the bus. It talks to the
// modules only through their published objects: it collects their tasks,
// runs them one by one and stops at the first failure.
package boss

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/log"
	"github.com/CZERTAINLY/Modulus/internal/metrics"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/parallel"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/store"
)

var (
	ErrInstallationFailed  = errors.New("installation failed")
	ErrInstallationRunning = errors.New("installation is already running")
)

const DefaultPollInterval = 100 * time.Millisecond

type Options struct {
	// PollInterval is the period of IsRunning checks of a started task.
	PollInterval time.Duration
	// ProgressEvery is the period of progress logging, zero disables it.
	ProgressEvery time.Duration
	// DB records installations when not nil.
	DB *sql.DB
}

type Boss struct {
	bus     *bus.Bus
	modules []ModuleProxy
	opts    Options

	mx      sync.Mutex
	running bool
	current string

	CurrentTaskChanged signal.Changed
}

// New returns a boss driving the modules published at paths, in the given
// order.
func New(b *bus.Bus, opts Options, paths ...string) *Boss {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	modules := make([]ModuleProxy, 0, len(paths))
	for _, path := range paths {
		modules = append(modules, NewModuleProxy(b, path))
	}
	return &Boss{
		bus:     b,
		modules: modules,
		opts:    opts,
	}
}

func (b *Boss) Modules() []string {
	ret := make([]string, 0, len(b.modules))
	for _, m := range b.modules {
		ret = append(ret, m.Path())
	}
	return ret
}

// CurrentTask returns the path of the running task, empty when idle.
func (b *Boss) CurrentTask() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.current
}

func (b *Boss) setCurrentTask(path string) {
	b.mx.Lock()
	changed := b.current != path
	b.current = path
	b.mx.Unlock()
	if changed {
		b.CurrentTaskChanged.Emit()
	}
}

// RunInstallation sets up the modules, runs their installation tasks and
// tears down what was set up. It returns the installation id.
func (b *Boss) RunInstallation(ctx context.Context) (string, error) {
	b.mx.Lock()
	if b.running {
		b.mx.Unlock()
		return "", ErrInstallationRunning
	}
	b.running = true
	b.mx.Unlock()
	defer func() {
		b.mx.Lock()
		b.running = false
		b.mx.Unlock()
	}()

	id := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("installation", id))
	start := time.Now()
	if b.opts.DB != nil {
		if err := store.Start(ctx, b.opts.DB, id); err != nil {
			return "", fmt.Errorf("recording installation: %w", err)
		}
	}
	if b.opts.ProgressEvery > 0 {
		s, err := b.newProgressScheduler(ctx)
		if err != nil {
			return "", err
		}
		defer func() {
			if err := s.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	slog.InfoContext(ctx, "installation started", "modules", len(b.modules))
	tasks, err := b.install(ctx)
	metrics.RecordInstallation(err == nil, time.Since(start))
	if err != nil {
		slog.ErrorContext(ctx, "installation failed", "tasks", tasks, "error", err)
	} else {
		slog.InfoContext(ctx, "installation finished", "tasks", tasks, "duration", time.Since(start))
	}

	if b.opts.DB != nil {
		rctx := context.WithoutCancel(ctx)
		var serr error
		if err != nil {
			serr = store.FinishErr(rctx, b.opts.DB, id, tasks, err.Error())
		} else {
			serr = store.FinishOK(rctx, b.opts.DB, id, tasks)
		}
		if serr != nil {
			slog.ErrorContext(ctx, "recording installation result", "error", serr)
		}
	}
	return id, err
}

func (b *Boss) install(ctx context.Context) (tasks int, err error) {
	var setUp []ModuleProxy
	defer func() {
		tasks += b.tearDown(context.WithoutCancel(ctx), setUp)
	}()

	for _, m := range b.modules {
		path, cerr := m.SetUpWithTask(ctx)
		if cerr != nil {
			return tasks, fmt.Errorf("%w: %s: %w", ErrInstallationFailed, m.Path(), cerr)
		}
		setUp = append(setUp, m)
		if path == "" {
			continue
		}
		tasks++
		if err := b.runTask(ctx, path); err != nil {
			return tasks, err
		}
	}

	for _, m := range b.modules {
		paths, cerr := m.InstallWithTasks(ctx)
		if cerr != nil {
			return tasks, fmt.Errorf("%w: %s: %w", ErrInstallationFailed, m.Path(), cerr)
		}
		for _, path := range paths {
			tasks++
			if err := b.runTask(ctx, path); err != nil {
				return tasks, err
			}
		}
	}
	return tasks, nil
}

// tearDown runs tear down tasks of modules in reverse order. Failures are
// logged, the installed system is not affected by them.
func (b *Boss) tearDown(ctx context.Context, modules []ModuleProxy) int {
	var tasks int
	for _, m := range slices.Backward(modules) {
		path, err := m.TearDownWithTask(ctx)
		if err != nil {
			slog.WarnContext(ctx, "tear down", "module", m.Path(), "error", err)
			continue
		}
		if path == "" {
			continue
		}
		tasks++
		if err := b.runTask(ctx, path); err != nil {
			slog.WarnContext(ctx, "tear down", "module", m.Path(), "error", err)
		}
	}
	return tasks
}

// runTask starts the task at path, polls until it stops and returns its
// failure.
func (b *Boss) runTask(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallationFailed, path, err)
	}
	t := NewTaskProxy(b.bus, path)
	name, err := t.Name(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallationFailed, path, err)
	}
	b.setCurrentTask(path)
	defer b.setCurrentTask("")

	slog.InfoContext(ctx, "running task", "task", name, "path", path)
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallationFailed, name, err)
	}
	pctx := context.WithoutCancel(ctx)
	if err := b.wait(ctx, t); err != nil {
		// the task stopped, its terminal signals are delivered by Finish
		if ferr := t.Finish(pctx); ferr != nil {
			slog.DebugContext(ctx, "interrupted task", "task", name, "error", ferr)
		}
		return fmt.Errorf("%w: %s: %w", ErrInstallationFailed, name, err)
	}
	if err := t.Finish(pctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInstallationFailed, name, err)
	}
	return nil
}

// wait polls t until it stops. When ctx is done the task is asked to
// cancel and wait keeps polling until the task stops, then returns the
// error of ctx. A task which can't be cancelled runs to its end.
func (b *Boss) wait(ctx context.Context, t TaskProxy) error {
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()
	pctx := context.WithoutCancel(ctx)
	done := ctx.Done()
	var cancelled error
	for {
		running, err := t.IsRunning(pctx)
		if err != nil {
			return errors.Join(cancelled, err)
		}
		if !running {
			return cancelled
		}
		select {
		case <-done:
			cancelled = ctx.Err()
			done = nil
			if err := t.Cancel(pctx); err != nil {
				slog.WarnContext(ctx, "can't cancel task, waiting for it to finish", "path", t.Path(), "error", err)
			} else {
				slog.InfoContext(ctx, "waiting for the cancelled task to stop", "path", t.Path())
			}
		case <-ticker.C:
		}
	}
}

func (b *Boss) newProgressScheduler(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(b.opts.ProgressEvery),
		gocron.NewTask(func() { b.logProgress(ctx) }),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	s.Start()
	return s, nil
}

func (b *Boss) logProgress(ctx context.Context) {
	path := b.CurrentTask()
	if path == "" {
		return
	}
	t := NewTaskProxy(b.bus, path)
	p, err := t.Progress(ctx)
	if err != nil {
		slog.DebugContext(ctx, "progress unavailable", "path", path, "error", err)
		return
	}
	name, _ := t.Name(ctx)
	slog.InfoContext(ctx, "installation progress", "task", name, "step", p.Step, "steps", p.Total, "message", p.Message)
}

// CollectRequirements asks all modules concurrently and returns the merged
// requirements.
func (b *Boss) CollectRequirements(ctx context.Context) ([]module.Requirement, error) {
	lists, err := parallel.Collect(ctx, len(b.modules), b.modules,
		func(ctx context.Context, m ModuleProxy) ([]module.Requirement, error) {
			return m.CollectRequirements(ctx)
		})
	if err != nil {
		return nil, err
	}
	return module.SortRequirements(slices.Concat(lists...)), nil
}

// GenerateKickstart concatenates the kickstart of every module, in module
// order.
func (b *Boss) GenerateKickstart(ctx context.Context) (string, error) {
	var parts []string
	for _, m := range b.modules {
		text, err := m.GenerateKickstart(ctx)
		if err != nil {
			return "", fmt.Errorf("%s: %w", m.Path(), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, "\n\n") + "\n", nil
}

// ReadKickstart hands text to every module and merges their reports.
// Tables no module reads are reported as warnings.
func (b *Boss) ReadKickstart(ctx context.Context, text string) (kickstart.Report, error) {
	var report kickstart.Report
	doc, err := kickstart.Parse(text)
	if err != nil {
		report.AddError(err)
		return report, nil
	}

	owned := make(map[string]struct{})
	for _, m := range b.modules {
		cmds, err := m.KickstartCommands(ctx)
		if err != nil {
			return report, fmt.Errorf("%s: %w", m.Path(), err)
		}
		for _, cmd := range cmds {
			owned[cmd] = struct{}{}
		}
	}
	for _, name := range doc.Names() {
		if _, ok := owned[name]; !ok {
			report.AddWarning("[%s]: no module reads this table", name)
		}
	}

	for _, m := range b.modules {
		r, err := m.ReadKickstart(ctx, text)
		if err != nil {
			return report, fmt.Errorf("%s: %w", m.Path(), err)
		}
		report.Merge(r)
	}
	return report, nil
}
