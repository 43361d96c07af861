package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	DefaultSysroot   = "/mnt/sysimage"
	DefaultMountDir  = "/run/modulus/sources"
	DefaultSysfsRoot = "/"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int      `json:"version" yaml:"version"` // fixed 0 for now
	Sysroot   string   `json:"sysroot" yaml:"sysroot"`
	MountDir  string   `json:"mount_dir" yaml:"mount_dir"`
	SysfsRoot string   `json:"sysfs_root" yaml:"sysfs_root"`                   // prefix of /sys, / on a real system
	Kickstart string   `json:"kickstart,omitempty" yaml:"kickstart,omitempty"` // path of the kickstart to read on start
	Modules   Modules  `json:"modules" yaml:"modules"`
	Service   Service  `json:"service" yaml:"service"`
	Store     *Store   `json:"store,omitempty" yaml:"store,omitempty"`
	Metrics   *Metrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// Modules enables the installer modules.
type Modules struct {
	Security bool `json:"security" yaml:"security"`
	Storage  bool `json:"storage" yaml:"storage"`
	Payloads bool `json:"payloads" yaml:"payloads"`
}

type Service struct {
	Verbose      bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log          string `json:"log" yaml:"log"`                     // "stderr"|"stdout"|"discard"|path
	ProgressEach string `json:"progress_each" yaml:"progress_each"` // cue duration, e.g. 10s
}

// Store of the installation history.
type Store struct {
	Path  string `json:"path" yaml:"path"`
	Keep  string `json:"keep" yaml:"keep"`   // cue duration
	Prune string `json:"prune" yaml:"prune"` // cron expression
}

type Metrics struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig(ctx context.Context) Config {
	cfg := Config{
		Sysroot:   DefaultSysroot,
		MountDir:  DefaultMountDir,
		SysfsRoot: DefaultSysfsRoot,
		Modules: Modules{
			Security: true,
			Storage:  true,
			Payloads: true,
		},
		Service: Service{
			Log:          LogStderr,
			ProgressEach: "10s",
		},
	}
	slog.DebugContext(ctx, "using default configuration")
	return cfg
}

// ProgressEachDuration returns the period of progress reports.
func (s Service) ProgressEachDuration() (time.Duration, error) {
	return ParseCueDuration(s.ProgressEach)
}

func (s Store) KeepDuration() (time.Duration, error) {
	return ParseCueDuration(s.Keep)
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	if out.Store != nil {
		if err := ParseCron(out.Store.Prune); err != nil {
			return Config{}, fmt.Errorf("parsing store.prune: %w", err)
		}
	}
	return out, nil
}
