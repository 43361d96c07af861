package payloads

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

// LiveOS installs the system by copying the content of a live image.
type LiveOS struct {
	Base
	exe     command.Executor
	sysroot string
}

func NewLiveOS(exe command.Executor, sysroot string) *LiveOS {
	p := &LiveOS{
		exe:     exe,
		sysroot: sysroot,
	}
	p.supported = []SourceType{SourceLiveOS}
	return p
}

func (p *LiveOS) Type() PayloadType { return PayloadLiveOS }

// SetSources attaches the image and updates the required space to its
// size.
func (p *LiveOS) SetSources(sources []Source) error {
	if err := p.Base.SetSources(sources); err != nil {
		return err
	}
	p.updateRequiredSpace()
	return nil
}

func (p *LiveOS) updateRequiredSpace() {
	var size uint64
	for _, s := range p.Sources() {
		size += s.RequiredSpace()
	}
	p.SetRequiredSpace(size)
}

func (p *LiveOS) SetUpSourcesWithTask() *task.Task {
	t := p.Base.SetUpSourcesWithTask()
	t.Succeeded.Connect(func(*task.Task) { p.updateRequiredSpace() })
	return t
}

func (p *LiveOS) image() Source {
	sources := p.Sources()
	if len(sources) == 0 {
		return nil
	}
	return sources[0]
}

func (p *LiveOS) InstallWithTasks() []*task.Task {
	return []*task.Task{NewCopyImageTask(p.exe, p.image(), p.sysroot)}
}

var rsyncExcludes = []string{"/dev/", "/proc/", "/tmp/*", "/sys/", "/run/", "/boot/*rescue*", "/etc/machine-id"}

// NewCopyImageTask copies the mounted image into sysroot.
func NewCopyImageTask(exe command.Executor, image Source, sysroot string) *task.Task {
	return task.New("Install the live image", func(ctx context.Context, r *task.Reporter) (any, error) {
		if image == nil {
			return nil, ErrUnavailableSource
		}
		if !image.Initialized() {
			return nil, fmt.Errorf("%w: image is not set up", ErrImageInstallation)
		}
		src := strings.TrimPrefix(image.RepoURL(), "file://")
		args := []string{"-pogAXtlHrDx", "--info=progress2"}
		for _, e := range rsyncExcludes {
			args = append(args, "--exclude", e)
		}
		args = append(args, strings.TrimSuffix(src, "/")+"/", sysroot)

		r.Report(0, "copying the image")
		slog.InfoContext(ctx, "copying live image", "source", src, "sysroot", sysroot)
		if _, err := exe.Run(ctx, command.Command{Path: "rsync", Args: args}, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageInstallation, err)
		}
		r.Report(1, "image copied")
		return nil, nil
	}, task.WithSteps(1), task.WithCancellable(false))
}
