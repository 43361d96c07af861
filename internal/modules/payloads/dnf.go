package payloads

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

// RepoFile is the repository configuration written to the installed system.
const RepoFile = "etc/yum.repos.d/modulus.repo"

// DNF installs packages from repositories.
type DNF struct {
	Base
	exe      command.Executor
	sysroot  string
	packages *Packages
}

func NewDNF(exe command.Executor, sysroot string) *DNF {
	p := &DNF{
		exe:      exe,
		sysroot:  sysroot,
		packages: NewPackages(),
	}
	p.supported = []SourceType{SourceURL, SourceNFS, SourceCDROM}
	return p
}

func (p *DNF) Type() PayloadType { return PayloadDNF }

func (p *DNF) Packages() *Packages { return p.packages }

func (p *DNF) KickstartCommands() []string { return p.packages.KickstartCommands() }

func (p *DNF) ProcessKickstart(doc *kickstart.Document) error {
	return p.packages.ProcessKickstart(doc)
}

func (p *DNF) SetupKickstart(doc *kickstart.Document) error {
	return p.packages.SetupKickstart(doc)
}

func (p *DNF) repoURLs() []string {
	sources := p.Sources()
	ret := make([]string, 0, len(sources))
	for _, s := range sources {
		ret = append(ret, s.RepoURL())
	}
	return ret
}

// PreInstallWithTasks resolves the selection. The installed size of the
// resolved packages becomes the required space of the payload.
func (p *DNF) PreInstallWithTasks() []*task.Task {
	t := NewPrepareTransactionTask(p.exe, p.sysroot, p.repoURLs(), p.packages.Selection())
	t.Succeeded.Connect(func(t *task.Task) {
		tx, err := task.ResultAs[Transaction](t)
		if err != nil {
			slog.Warn("unexpected transaction", "error", err)
			return
		}
		p.SetRequiredSpace(tx.InstallSize)
	})
	return []*task.Task{t}
}

func (p *DNF) InstallWithTasks() []*task.Task {
	return []*task.Task{
		NewInstallPackagesTask(p.exe, p.sysroot, p.repoURLs(), p.packages.Selection()),
	}
}

func (p *DNF) PostInstallWithTasks() []*task.Task {
	var urls []string
	for _, s := range p.Sources() {
		if s.Type() == SourceURL {
			urls = append(urls, s.Location())
		}
	}
	return []*task.Task{NewWriteRepositoriesTask(p.sysroot, urls)}
}

// Transaction is the result of resolving a package selection.
type Transaction struct {
	Specs       []string
	Excludes    []string
	InstallSize uint64
}

func repoArgs(sysroot string, repos []string) []string {
	args := []string{"--installroot=" + sysroot, "--disablerepo=*", "--assumeyes"}
	for i, url := range repos {
		id := "modulus-" + strconv.Itoa(i)
		args = append(args, "--repofrompath="+id+","+url, "--enablerepo="+id)
	}
	return args
}

func excludeArgs(excludes []string) []string {
	ret := make([]string, 0, len(excludes))
	for _, e := range excludes {
		ret = append(ret, "--exclude="+e)
	}
	return ret
}

// NewPrepareTransactionTask checks the selection against repos and sums
// the installed size of the selected packages.
func NewPrepareTransactionTask(exe command.Executor, sysroot string, repos []string, sel Selection) *task.Task {
	return task.New("Prepare the package transaction", func(ctx context.Context, r *task.Reporter) (any, error) {
		if len(repos) == 0 {
			return nil, ErrUnavailableSource
		}
		tx := Transaction{Specs: sel.Specs(), Excludes: sel.ExcludedPackages}
		if len(tx.Specs) == 0 {
			return nil, fmt.Errorf("%w: nothing to install", ErrPackageManagement)
		}
		if len(sel.Packages) > 0 {
			args := append([]string{"repoquery", "--latest-limit=1", "--qf=%{installsize}\\n"}, repoArgs(sysroot, repos)...)
			args = append(args, excludeArgs(sel.ExcludedPackages)...)
			res, err := exe.Run(ctx, command.Command{Path: "dnf", Args: append(args, sel.Packages...)}, nil)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPackageManagement, err)
			}
			size, err := sumSizes(res.Stdout)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPackageManagement, err)
			}
			tx.InstallSize = size
		}
		r.Report(1, "transaction prepared")
		slog.InfoContext(ctx, "package transaction prepared", "specs", len(tx.Specs), "size", tx.InstallSize)
		return tx, nil
	}, task.WithSteps(1))
}

func sumSizes(stdout *bytes.Buffer) (uint64, error) {
	if stdout == nil {
		return 0, nil
	}
	var total uint64
	scanner := bufio.NewScanner(bytes.NewReader(stdout.Bytes()))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing size %q: %w", line, err)
		}
		total += n
	}
	return total, scanner.Err()
}

// NewInstallPackagesTask installs the selection into sysroot. A running
// transaction can't be interrupted.
func NewInstallPackagesTask(exe command.Executor, sysroot string, repos []string, sel Selection) *task.Task {
	return task.New("Install the packages", func(ctx context.Context, r *task.Reporter) (any, error) {
		if len(repos) == 0 {
			return nil, ErrUnavailableSource
		}
		args := append([]string{"install"}, repoArgs(sysroot, repos)...)
		args = append(args, excludeArgs(sel.ExcludedPackages)...)
		args = append(args, sel.Specs()...)
		r.Report(0, "installing packages")
		stderr := func(ctx context.Context, line string) {
			slog.DebugContext(ctx, "dnf", "line", line)
		}
		if _, err := exe.Run(ctx, command.Command{Path: "dnf", Args: args}, stderr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPackageManagement, err)
		}
		r.Report(1, "packages installed")
		return nil, nil
	}, task.WithSteps(1), task.WithCancellable(false))
}

// NewWriteRepositoriesTask writes network repositories into the installed
// system.
func NewWriteRepositoriesTask(sysroot string, urls []string) *task.Task {
	return task.New("Write the repositories", func(ctx context.Context, r *task.Reporter) (any, error) {
		if len(urls) == 0 {
			return nil, nil
		}
		var b strings.Builder
		for i, url := range urls {
			fmt.Fprintf(&b, "[modulus-%d]\nname=Installation repository %d\nbaseurl=%s\nenabled=1\n\n", i, i, url)
		}
		path := filepath.Join(sysroot, RepoFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		slog.DebugContext(ctx, "repositories written", "path", path, "count", len(urls))
		return nil, nil
	})
}
