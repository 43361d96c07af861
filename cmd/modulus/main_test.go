package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/model"
	"github.com/CZERTAINLY/Modulus/internal/modules/storage/dasd"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaultConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "modulus", "modulus.yaml")
	require.False(t, exists(path))

	cfg := model.DefaultConfig(t.Context())
	require.NoError(t, writeDefaultConfig(path, cfg))
	require.True(t, exists(path))
	require.False(t, exists(filepath.Dir(path)))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	back, err := model.LoadConfig(f)
	require.NoError(t, err)
	require.Equal(t, cfg, back)
}

func TestNewInstaller(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig(t.Context())
	cfg.Sysroot = t.TempDir()
	cfg.MountDir = t.TempDir()
	cfg.SysfsRoot = t.TempDir()
	block := filepath.Join(cfg.SysfsRoot, "sys", "block", "dasda")
	require.NoError(t, os.MkdirAll(block, 0o755))
	require.NoError(t, os.Symlink("../../devices/css0/0.0.0001/0.0.0201", filepath.Join(block, "device")))
	cfg.Store = &model.Store{
		Path:  filepath.Join(t.TempDir(), "modulus.db"),
		Keep:  "30d",
		Prune: "@daily",
	}

	inst, err := newInstaller(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close(t.Context()) })
	require.Equal(t, []string{
		"/com/czertainly/Modulus/Modules/Storage/DASD",
		"/com/czertainly/Modulus/Modules/Payloads",
		"/com/czertainly/Modulus/Modules/Security",
	}, inst.boss.Modules())

	// storage is scanned when the installer starts
	dasds := bus.NewProxy(inst.bus, bus.DASD.ObjectPath())
	got, err := bus.CallAs[[]string](t.Context(), dasds, "FindFormattable", []string{"dasda"})
	require.NoError(t, err)
	require.Empty(t, got)
	_, err = dasds.Call(t.Context(), "FindFormattable", []string{"sdz"})
	require.ErrorIs(t, err, dasd.ErrUnknownDevice)

	ks := filepath.Join(t.TempDir(), "ks.toml")
	require.NoError(t, os.WriteFile(ks, []byte("[selinux]\nmode = \"permissive\"\n\n[bootloader]\ntimeout = 5\n"), 0o644))
	require.NoError(t, readKickstart(t.Context(), inst, ks))

	text, err := inst.boss.GenerateKickstart(t.Context())
	require.NoError(t, err)
	require.Contains(t, text, `mode = "permissive"`)
}
