package model_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/Modulus/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	yml := `
version: 0
sysroot: /mnt/target
kickstart: /run/install/ks.toml
modules:
  storage: false
service:
  verbose: true
  log: stdout
  progress_each: 1m30s
store:
  path: /var/lib/modulus/history.db
metrics:
  enabled: true
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.Equal(t, "/mnt/target", cfg.Sysroot)
	require.Equal(t, model.DefaultMountDir, cfg.MountDir)
	require.Equal(t, model.DefaultSysfsRoot, cfg.SysfsRoot)
	require.Equal(t, "/run/install/ks.toml", cfg.Kickstart)
	require.Equal(t, model.Modules{Security: true, Storage: false, Payloads: true}, cfg.Modules)
	require.True(t, cfg.Service.Verbose)
	require.Equal(t, model.LogStdout, cfg.Service.Log)
	d, err := cfg.Service.ProgressEachDuration()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	require.NotNil(t, cfg.Store)
	require.Equal(t, "/var/lib/modulus/history.db", cfg.Store.Path)
	require.Equal(t, "@daily", cfg.Store.Prune)
	keep, err := cfg.Store.KeepDuration()
	require.NoError(t, err)
	require.Equal(t, 30*24*time.Hour, keep)

	require.NotNil(t, cfg.Metrics)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "127.0.0.1:9466", cfg.Metrics.Listen)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := model.LoadConfig(strings.NewReader("version: 0\n"))
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(t.Context()), cfg)
}

func TestLoadConfigFail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{
			scenario: "unknown field",
			given:    "version: 0\nservice:\n  colour: blue\n",
		},
		{
			scenario: "wrong version",
			given:    "version: 1\n",
		},
		{
			scenario: "malformed duration",
			given:    "version: 0\nservice:\n  progress_each: 10 minutes\n",
		},
		{
			scenario: "store without path",
			given:    "version: 0\nstore:\n  keep: 1d\n",
		},
		{
			scenario: "invalid prune schedule",
			given:    "version: 0\nstore:\n  path: /tmp/h.db\n  prune: \"* * 32 * *\"\n",
			then:     "parsing store.prune: end of range (32) above maximum (31): 32",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tc.given))
			require.Error(t, err)
			if tc.then != "" {
				require.EqualError(t, err, tc.then)
			}
		})
	}
}

func TestCueErrDetails(t *testing.T) {
	t.Parallel()
	_, err := model.LoadConfig(strings.NewReader("version: 0\nservice:\n  colour: blue\n"))
	require.Error(t, err)

	details := model.CueErrDetails(err)
	require.NotEmpty(t, details)
	require.True(t, slices.ContainsFunc(details, func(d model.CueErrorDetail) bool {
		return d.Code == "unknown_field" && d.Pos.Filename == "config.yaml"
	}), details)
	require.Nil(t, model.CueErrDetails(nil))
}
