package payloads

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

type SourceType string

const (
	SourceURL    SourceType = "URL"
	SourceNFS    SourceType = "NFS"
	SourceCDROM  SourceType = "CDROM"
	SourceLiveOS SourceType = "LIVE_OS_IMAGE"
)

// Source describes where the payload data come from.
type Source interface {
	Type() SourceType
	// Location is the URL, the NFS server:/path, the device or the image
	// path, depending on the type.
	Location() string
	SetLocation(string)
	// RepoURL is the location usable by a package manager.
	RepoURL() string
	Initialized() bool
	RequiredSpace() uint64
	SetUpWithTask() *task.Task
	TearDownWithTask() *task.Task
}

// source is a Source mounted into a directory during set up. Sources
// without a mount command only toggle the initialized flag.
type source struct {
	typ   SourceType
	exe   command.Executor
	mount string

	mx          sync.Mutex
	location    string
	initialized bool

	InitializedChanged signal.Changed
}

func newSource(typ SourceType, exe command.Executor, mountDir string) *source {
	return &source{
		typ:   typ,
		exe:   exe,
		mount: mountDir,
	}
}

func (s *source) Type() SourceType { return s.typ }

func (s *source) Location() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.location
}

func (s *source) SetLocation(location string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.location = location
}

func (s *source) Initialized() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.initialized
}

func (s *source) setInitialized(v bool) {
	s.mx.Lock()
	s.initialized = v
	s.mx.Unlock()
	s.InitializedChanged.Emit()
}

func (s *source) RepoURL() string {
	if s.typ == SourceURL {
		return s.Location()
	}
	return "file://" + s.mount
}

// RequiredSpace is the size of the image of a live OS source.
func (s *source) RequiredSpace() uint64 {
	if s.typ != SourceLiveOS {
		return 0
	}
	fi, err := os.Stat(s.Location())
	if err != nil {
		return 0
	}
	return uint64(fi.Size())
}

func (s *source) mountArgs(location string) []string {
	switch s.typ {
	case SourceNFS:
		return []string{"-t", "nfs", "-o", "ro", location, s.mount}
	case SourceCDROM:
		return []string{"-t", "iso9660", "-o", "ro", location, s.mount}
	case SourceLiveOS:
		return []string{"-o", "loop,ro", location, s.mount}
	default:
		return nil
	}
}

func (s *source) SetUpWithTask() *task.Task {
	location := s.Location()
	initialized := s.Initialized()
	t := task.New(fmt.Sprintf("Set up %s source", s.typ), func(ctx context.Context, r *task.Reporter) (any, error) {
		if initialized {
			return nil, nil
		}
		if location == "" {
			return nil, fmt.Errorf("%w: %s source has no location", ErrSourceSetup, s.typ)
		}
		if args := s.mountArgs(location); args != nil {
			if err := os.MkdirAll(s.mount, 0o755); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSourceSetup, err)
			}
			if _, err := s.exe.Run(ctx, command.Command{Path: "mount", Args: args}, nil); err != nil {
				return nil, fmt.Errorf("%w: mounting %s: %v", ErrSourceSetup, location, err)
			}
		}
		slog.DebugContext(ctx, "source set up", "type", s.typ, "location", location)
		return nil, nil
	})
	t.Succeeded.Connect(func(*task.Task) { s.setInitialized(true) })
	return t
}

func (s *source) TearDownWithTask() *task.Task {
	initialized := s.Initialized()
	t := task.New(fmt.Sprintf("Tear down %s source", s.typ), func(ctx context.Context, r *task.Reporter) (any, error) {
		if !initialized {
			return nil, nil
		}
		if s.mountArgs("") != nil {
			if _, err := s.exe.Run(ctx, command.Command{Path: "umount", Args: []string{s.mount}}, nil); err != nil {
				return nil, fmt.Errorf("unmounting %s: %w", s.mount, err)
			}
		}
		slog.DebugContext(ctx, "source torn down", "type", s.typ)
		return nil, nil
	}, task.WithCancellable(false))
	t.Succeeded.Connect(func(*task.Task) { s.setInitialized(false) })
	return t
}

// NewSource creates an unconfigured source of typ. Mounted sources use a
// unique directory under mountDir.
func NewSource(typ SourceType, exe command.Executor, mountDir string) (Source, error) {
	switch typ {
	case SourceURL:
		return newSource(typ, exe, ""), nil
	case SourceNFS, SourceCDROM, SourceLiveOS:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, typ)
	}
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating mount directory: %w", err)
	}
	dir, err := os.MkdirTemp(mountDir, strings.ToLower(string(typ))+"-")
	if err != nil {
		return nil, fmt.Errorf("creating mount point: %w", err)
	}
	return newSource(typ, exe, filepath.Clean(dir)), nil
}
