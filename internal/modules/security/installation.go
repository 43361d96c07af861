package security

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

const (
	selinuxConfig = "etc/selinux/config"
	realmBinary   = "realm"
	// realmd itself is needed on the target to manage the enrollment
	realmPackage = "realmd"
)

// NewConfigureSELinuxTask sets SELINUX= in the SELinux config of sysroot.
// The default mode keeps the file untouched.
func NewConfigureSELinuxTask(sysroot string, mode SELinuxMode) *task.Task {
	return task.New("Configure SELinux", func(ctx context.Context, r *task.Reporter) (any, error) {
		if mode == SELinuxDefault {
			slog.DebugContext(ctx, "using the default SELinux configuration")
			return nil, nil
		}
		if !mode.Valid() {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSELinuxMode, int32(mode))
		}
		path := filepath.Join(sysroot, selinuxConfig)
		if err := setSELinux(path, mode); err != nil {
			return nil, fmt.Errorf("configuring SELinux: %w", err)
		}
		r.Report(1, "SELinux set to "+mode.String())
		slog.InfoContext(ctx, "SELinux configured", "path", path, "mode", mode.String())
		return nil, nil
	}, task.WithSteps(1))
}

func setSELinux(path string, mode SELinuxMode) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var out strings.Builder
	found := false
	scanner := bufio.NewScanner(strings.NewReader(string(b)))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "SELINUX=") {
			line = "SELINUX=" + mode.String()
			found = true
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if !found {
		out.WriteString("SELINUX=" + mode.String() + "\n")
	}
	return os.WriteFile(path, []byte(out.String()), 0o644)
}

// NewRealmDiscoverTask runs realm discover and returns the realm updated
// with the discovery results. A realm which could not be discovered is
// returned with Discovered unset.
func NewRealmDiscoverTask(exe command.Executor, realm RealmData) *task.Task {
	realm = realm.Clone()
	return task.New("Discover a realm", func(ctx context.Context, r *task.Reporter) (any, error) {
		if realm.Name == "" {
			slog.DebugContext(ctx, "no realm name set, skipping discovery")
			return realm, nil
		}
		if err := r.Checkpoint(); err != nil {
			return nil, err
		}

		args := append([]string{"discover", "--verbose"}, realm.DiscoverOptions...)
		args = append(args, realm.Name)
		res, err := exe.Run(ctx, command.Command{Path: realmBinary, Args: args}, nil)
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				slog.InfoContext(ctx, "no realm discovered", "realm", realm.Name, "error", err)
				return realm, nil
			}
			return nil, fmt.Errorf("discovering realm %s: %w", realm.Name, err)
		}

		realm.Discovered = true
		realm.RequiredPackages = append([]string{realmPackage}, parseRequiredPackages(res.Stdout.String())...)
		r.Report(1, "realm "+realm.Name+" discovered")
		slog.InfoContext(ctx, "realm discovered", "realm", realm.Name, "required_packages", realm.RequiredPackages)
		return realm, nil
	}, task.WithSteps(1))
}

func parseRequiredPackages(output string) []string {
	var ret []string
	for line := range strings.Lines(output) {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "required-package" {
			continue
		}
		if pkg := strings.TrimSpace(value); pkg != "" {
			ret = append(ret, pkg)
		}
	}
	return ret
}

// RealmJoinTask joins the installed system to a realm. The realm can be
// replaced until the task starts working. A running join cannot be
// cancelled.
type RealmJoinTask struct {
	*task.Task

	mx    sync.Mutex
	realm RealmData
}

func NewRealmJoinTask(sysroot string, exe command.Executor, realm RealmData) *RealmJoinTask {
	j := &RealmJoinTask{realm: realm.Clone()}
	j.Task = task.New("Join a realm", func(ctx context.Context, r *task.Reporter) (any, error) {
		realm := j.Realm()
		if !realm.Discovered {
			slog.InfoContext(ctx, "realm was not discovered, skipping join", "realm", realm.Name)
			return nil, nil
		}

		args := append([]string{"join", "--install=" + sysroot, "--verbose"}, realm.JoinOptions...)
		args = append(args, realm.Name)
		if _, err := exe.Run(ctx, command.Command{Path: realmBinary, Args: args}, nil); err != nil {
			return nil, fmt.Errorf("joining realm %s: %w", realm.Name, err)
		}
		r.Report(1, "joined realm "+realm.Name)
		slog.InfoContext(ctx, "realm joined", "realm", realm.Name)
		return nil, nil
	}, task.WithSteps(1), task.WithCancellable(false))
	return j
}

func (j *RealmJoinTask) Realm() RealmData {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.realm.Clone()
}

func (j *RealmJoinTask) SetRealm(realm RealmData) {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.realm = realm.Clone()
}
