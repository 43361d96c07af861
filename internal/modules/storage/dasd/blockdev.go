package dasd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/CZERTAINLY/Modulus/internal/command"
)

// Blockdev is the device library used by the module.
type Blockdev interface {
	// Online brings the device with the sanitized device number online.
	Online(ctx context.Context, devnum string) error
	// NeedsFormat reports whether the DASD at busid is unformatted.
	NeedsFormat(busid string) (bool, error)
	// IsLDL reports whether the DASD is formatted in Linux disk layout.
	IsLDL(ctx context.Context, name string) (bool, error)
	Format(ctx context.Context, name string) error
}

var devnumRx = regexp.MustCompile(`^[0-9a-f]\.[0-9a-f]\.[0-9a-f]{4}$`)

// SanitizeDeviceNumber normalizes a device number to the 0.0.a100 form.
// Short forms like a100 or 0.0.A10 are completed.
func SanitizeDeviceNumber(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", fmt.Errorf("%w: empty device number", ErrStorageDiscovery)
	}
	if !strings.Contains(s, ".") {
		s = "0.0." + s
	}
	if idx := strings.LastIndexByte(s, '.'); idx != -1 && len(s)-idx-1 < 4 {
		s = s[:idx+1] + strings.Repeat("0", 4-(len(s)-idx-1)) + s[idx+1:]
	}
	if !devnumRx.MatchString(s) {
		return "", fmt.Errorf("%w: invalid device number %q", ErrStorageDiscovery, input)
	}
	return s, nil
}

// CommandBlockdev implements Blockdev with s390 tools.
type CommandBlockdev struct {
	Exec command.Executor
	// SysfsRoot is / on a real system.
	SysfsRoot string
}

func (c CommandBlockdev) Online(ctx context.Context, devnum string) error {
	_, err := c.Exec.Run(ctx, command.Command{Path: "chccwdev", Args: []string{"-e", devnum}}, nil)
	return err
}

func (c CommandBlockdev) NeedsFormat(busid string) (bool, error) {
	b, err := os.ReadFile(filepath.Join(c.SysfsRoot, "sys/bus/ccw/devices", busid, "status"))
	if err != nil {
		return false, err
	}
	return strings.Contains(string(b), "unformatted"), nil
}

func (c CommandBlockdev) IsLDL(ctx context.Context, name string) (bool, error) {
	res, err := c.Exec.Run(ctx, command.Command{Path: "dasdview", Args: []string{"-x", devicePath(name)}}, nil)
	if err != nil {
		return false, err
	}
	return strings.Contains(res.Stdout.String(), "LDL formatted"), nil
}

func (c CommandBlockdev) Format(ctx context.Context, name string) error {
	_, err := c.Exec.Run(ctx, command.Command{
		Path: "dasdfmt",
		Args: []string{"-y", "-d", "cdl", "-b", "4096", devicePath(name)},
	}, nil)
	return err
}

func devicePath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/dev/" + name
}
