package dasd_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/command"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/modules/storage/dasd"
	"github.com/CZERTAINLY/Modulus/internal/modules/storage/devicetree"
	"github.com/CZERTAINLY/Modulus/internal/task"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBlockdev records calls and answers format checks from its fields.
type fakeBlockdev struct {
	mx          sync.Mutex
	needsFormat bool
	isLDL       bool
	onlineErr   error
	online      []string
	formatted   []string
	formatHook  func(name string)
}

func (f *fakeBlockdev) Online(_ context.Context, devnum string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.online = append(f.online, devnum)
	return f.onlineErr
}

func (f *fakeBlockdev) NeedsFormat(string) (bool, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.needsFormat, nil
}

func (f *fakeBlockdev) IsLDL(context.Context, string) (bool, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.isLDL, nil
}

func (f *fakeBlockdev) Format(_ context.Context, name string) error {
	f.mx.Lock()
	f.formatted = append(f.formatted, name)
	hook := f.formatHook
	f.mx.Unlock()
	if hook != nil {
		hook(name)
	}
	return nil
}

func (f *fakeBlockdev) set(needsFormat, isLDL bool) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.needsFormat, f.isLDL = needsFormat, isLDL
}

func TestFindFormattable(t *testing.T) {
	t.Parallel()
	blockdev := &fakeBlockdev{}
	m := dasd.New(blockdev)
	ctx := t.Context()

	_, err := m.FindFormattable(ctx, []string{"dev1"})
	require.ErrorIs(t, err, dasd.ErrUnavailableStorage)

	storage, err := devicetree.New()
	require.NoError(t, err)
	m.OnStorageChanged(storage)
	_, err = m.FindFormattable(ctx, []string{"dev1"})
	require.ErrorIs(t, err, dasd.ErrUnknownDevice)

	require.NoError(t, storage.Add(devicetree.Device{
		Name:   "dev1",
		Type:   devicetree.TypeDASD,
		BusID:  "0.0.0201",
		Format: "ext4",
		Size:   10 << 30,
	}))

	type given struct {
		unrecognized bool
		ldl          bool
		needsFormat  bool
		isLDL        bool
	}
	var testCases = []struct {
		scenario string
		given    given
		then     []string
	}{
		{
			scenario: "the policy does not allow to format anything",
			given:    given{needsFormat: true, isLDL: true},
			then:     []string{},
		},
		{
			scenario: "format unrecognized, but there are none",
			given:    given{unrecognized: true, needsFormat: false},
			then:     []string{},
		},
		{
			scenario: "format LDL, but there are none",
			given:    given{ldl: true, isLDL: false},
			then:     []string{},
		},
		{
			scenario: "format unrecognized",
			given:    given{unrecognized: true, needsFormat: true},
			then:     []string{"dev1"},
		},
		{
			scenario: "format all and there are all",
			given:    given{unrecognized: true, ldl: true, needsFormat: true, isLDL: true},
			then:     []string{"dev1"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			m.OnFormatUnrecognizedEnabledChanged(tc.given.unrecognized)
			m.OnFormatLDLEnabledChanged(tc.given.ldl)
			blockdev.set(tc.given.needsFormat, tc.given.isLDL)
			got, err := m.FindFormattable(ctx, []string{"dev1"})
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}
}

func TestFindFormattableOrder(t *testing.T) {
	t.Parallel()
	storage, err := devicetree.New(
		devicetree.Device{Name: "dasdb", Type: devicetree.TypeDASD, BusID: "0.0.0202"},
		devicetree.Device{Name: "sda", Type: devicetree.TypeDisk},
		devicetree.Device{Name: "dasda", Type: devicetree.TypeDASD, BusID: "0.0.0201"},
	)
	require.NoError(t, err)
	m := dasd.New(&fakeBlockdev{needsFormat: true})
	m.OnStorageChanged(storage)
	m.OnFormatUnrecognizedEnabledChanged(true)

	got, err := m.FindFormattable(t.Context(), []string{"dasda", "sda", "dasdb"})
	require.NoError(t, err)
	require.Equal(t, []string{"dasda", "dasdb"}, got)
}

func TestSanitizeDeviceNumber(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		given string
		then  string
	}{
		{given: "0.0.A100", then: "0.0.a100"},
		{given: "a100", then: "0.0.a100"},
		{given: "0.0.1", then: "0.0.0001"},
		{given: " 0.1.beef ", then: "0.1.beef"},
	}
	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			got, err := dasd.SanitizeDeviceNumber(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, got)
		})
	}

	for _, bad := range []string{"x.y.z", "", "0.0.a1000", "0.0.g100"} {
		_, err := dasd.SanitizeDeviceNumber(bad)
		require.ErrorIs(t, err, dasd.ErrStorageDiscovery, bad)
	}
}

func TestDiscovery(t *testing.T) {
	t.Parallel()

	t.Run("malformed", func(t *testing.T) {
		blockdev := &fakeBlockdev{}
		m := dasd.New(blockdev)
		changed := 0
		m.DevicesChanged.Connect(func() { changed++ })

		tsk := m.DiscoverWithTask("x.y.z")
		err := tsk.Run(t.Context())
		require.ErrorIs(t, err, dasd.ErrStorageDiscovery)
		require.Equal(t, task.Failed, tsk.State())
		reason, err := tsk.FailureReason()
		require.NoError(t, err)
		require.NotEmpty(t, reason)
		require.Empty(t, blockdev.online)
		require.Zero(t, changed)
	})

	t.Run("well formed", func(t *testing.T) {
		blockdev := &fakeBlockdev{}
		m := dasd.New(blockdev)
		changed := 0
		m.DevicesChanged.Connect(func() { changed++ })

		tsk := m.DiscoverWithTask("0.0.A100")
		require.NoError(t, tsk.Run(t.Context()))
		require.Equal(t, task.Succeeded, tsk.State())
		require.Equal(t, []string{"0.0.a100"}, blockdev.online)
		require.Equal(t, []string{"0.0.a100"}, m.Discovered())
		require.Equal(t, 1, changed)
	})

	t.Run("device does not come online", func(t *testing.T) {
		blockdev := &fakeBlockdev{onlineErr: errors.New("chccwdev: no such device")}
		m := dasd.New(blockdev)
		tsk := m.DiscoverWithTask("0.0.0300")
		require.ErrorIs(t, tsk.Run(t.Context()), dasd.ErrStorageDiscovery)
		require.Empty(t, m.Discovered())
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()

	t.Run("in order", func(t *testing.T) {
		blockdev := &fakeBlockdev{}
		m := dasd.New(blockdev)
		tsk := m.FormatWithTask([]string{"/dev/sda", "/dev/sdb"})
		var progress []task.Progress
		tsk.ProgressChanged.Connect(func(p task.Progress) { progress = append(progress, p) })

		require.NoError(t, tsk.Run(t.Context()))
		require.Equal(t, []string{"/dev/sda", "/dev/sdb"}, blockdev.formatted)
		require.Equal(t, []task.Progress{
			{Step: 0, Total: 2, Message: "formatting /dev/sda"},
			{Step: 1, Total: 2, Message: "formatting /dev/sdb"},
			{Step: 2, Total: 2, Message: "formatted"},
		}, progress)
	})

	t.Run("cancelled between devices", func(t *testing.T) {
		blockdev := &fakeBlockdev{}
		m := dasd.New(blockdev)
		tsk := m.FormatWithTask([]string{"dasda", "dasdb", "dasdc"})
		blockdev.formatHook = func(name string) {
			if name == "dasda" {
				require.NoError(t, tsk.Cancel())
			}
		}
		require.ErrorIs(t, tsk.Run(t.Context()), task.ErrCancelled)
		require.Equal(t, task.Cancelled, tsk.State())
		require.Equal(t, []string{"dasda"}, blockdev.formatted)
	})
}

func TestRemote(t *testing.T) {
	t.Parallel()
	b := bus.New()
	blockdev := &fakeBlockdev{}
	m := dasd.New(blockdev)
	_, err := dasd.Publish(b, m)
	require.NoError(t, err)
	require.True(t, b.HasService(bus.Storage.ServiceName()))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	var mx sync.Mutex
	var discovered []any
	require.NoError(t, b.Subscribe(ctx, func(msg bus.Message) {
		if v, ok := msg.Changed["Discovered"]; ok && msg.Path == bus.DASD.ObjectPath() {
			mx.Lock()
			discovered = append(discovered, v)
			mx.Unlock()
		}
	}))

	p := bus.NewProxy(b, bus.DASD.ObjectPath())
	_, err = p.Call(t.Context(), "FindFormattable", []string{"dev1"})
	require.ErrorIs(t, err, dasd.ErrUnavailableStorage)
	var remote *bus.Error
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "com.czertainly.Modulus.Modules.Storage.Error.UnavailableStorage", remote.Name)

	path, err := bus.CallAs[string](t.Context(), p, "DiscoverWithTask", "0.0.A100")
	require.NoError(t, err)
	require.Equal(t, "/com/czertainly/Modulus/Modules/Storage/Task/1", path)
	_, err = bus.NewProxy(b, path).Call(t.Context(), "Start")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		return len(discovered) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"0.0.a100"}, discovered[0])

	bad, err := bus.CallAs[string](t.Context(), p, "DiscoverWithTask", "x.y.z")
	require.NoError(t, err)
	tp := bus.NewProxy(b, bad)
	_, err = tp.Call(t.Context(), "Start")
	require.NoError(t, err, "failures of the work never reach the caller of Start")
	require.Eventually(t, func() bool {
		state, err := bus.GetAs[string](t.Context(), tp, "State")
		return err == nil && state == "failed"
	}, time.Second, 10*time.Millisecond)
	_, err = tp.Call(t.Context(), "Finish")
	require.ErrorIs(t, err, dasd.ErrStorageDiscovery)
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "com.czertainly.Modulus.Modules.Storage.Error.StorageDiscovery", remote.Name)
}

func TestKickstart(t *testing.T) {
	t.Parallel()
	m := dasd.New(&fakeBlockdev{})
	report := module.ReadKickstart(t.Context(), m, "[dasd]\nformat_ldl = true\n")
	require.True(t, report.IsValid(), report.Errors)
	unrecognized, ldl := m.FormatPolicy()
	require.False(t, unrecognized)
	require.True(t, ldl)

	text, err := module.GenerateKickstart(m)
	require.NoError(t, err)
	require.Contains(t, text, "format_ldl = true")
}

func TestCommandBlockdev(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	status := filepath.Join(root, "sys", "bus", "ccw", "devices", "0.0.0201", "status")
	require.NoError(t, os.MkdirAll(filepath.Dir(status), 0o755))
	require.NoError(t, os.WriteFile(status, []byte("unformatted\n"), 0o644))

	var calls []command.Command
	exe := command.ExecutorFunc(func(_ context.Context, proto command.Command) (command.Result, error) {
		calls = append(calls, proto)
		if proto.Path == "dasdview" {
			return command.Output(proto, "format : hex 1 dec 1 LDL formatted\n"), nil
		}
		return command.Output(proto, ""), nil
	})
	bd := dasd.CommandBlockdev{Exec: exe, SysfsRoot: root}

	needs, err := bd.NeedsFormat("0.0.0201")
	require.NoError(t, err)
	require.True(t, needs)
	_, err = bd.NeedsFormat("0.0.0202")
	require.Error(t, err)

	ldl, err := bd.IsLDL(t.Context(), "dasda")
	require.NoError(t, err)
	require.True(t, ldl)
	require.NoError(t, bd.Online(t.Context(), "0.0.0201"))
	require.NoError(t, bd.Format(t.Context(), "/dev/dasda"))

	require.Equal(t, []string{"-x", "/dev/dasda"}, calls[0].Args)
	require.Equal(t, []string{"-e", "0.0.0201"}, calls[1].Args)
	require.Equal(t, []string{"-y", "-d", "cdl", "-b", "4096", "/dev/dasda"}, calls[2].Args)
}

func TestRescan(t *testing.T) {
	t.Parallel()
	errScan := errors.New("sysfs is gone")
	var mx sync.Mutex
	var scans int
	var scanErr error
	scan := func() (*devicetree.Tree, error) {
		mx.Lock()
		defer mx.Unlock()
		if scanErr != nil {
			return nil, scanErr
		}
		scans++
		if scans == 1 {
			return devicetree.New()
		}
		return devicetree.New(devicetree.Device{Name: "dasda", Type: devicetree.TypeDASD, BusID: "0.0.0201"})
	}
	m := dasd.New(&fakeBlockdev{needsFormat: true}, dasd.WithScan(scan))
	m.OnFormatUnrecognizedEnabledChanged(true)

	_, err := m.FindFormattable(t.Context(), []string{"dasda"})
	require.ErrorIs(t, err, dasd.ErrUnavailableStorage)

	require.NoError(t, m.Rescan())
	_, err = m.FindFormattable(t.Context(), []string{"dasda"})
	require.ErrorIs(t, err, dasd.ErrUnknownDevice)

	// the device brought online is found by the next scan
	require.NoError(t, m.DiscoverWithTask("0.0.0201").Run(t.Context()))
	got, err := m.FindFormattable(t.Context(), []string{"dasda"})
	require.NoError(t, err)
	require.Equal(t, []string{"dasda"}, got)

	mx.Lock()
	scanErr = errScan
	mx.Unlock()
	err = m.Rescan()
	require.ErrorIs(t, err, dasd.ErrStorageDiscovery)
	require.ErrorIs(t, err, errScan)
	got, err = m.FindFormattable(t.Context(), []string{"dasda"})
	require.NoError(t, err, "a failed scan keeps the previous tree")
	require.Equal(t, []string{"dasda"}, got)

	require.NoError(t, dasd.New(&fakeBlockdev{}).Rescan())
}

func TestFormatPolicyProperties(t *testing.T) {
	t.Parallel()
	b := bus.New()
	m := dasd.New(&fakeBlockdev{})
	_, err := dasd.Publish(b, m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	var changes []map[string]any
	require.NoError(t, b.Subscribe(ctx, func(msg bus.Message) {
		if msg.Kind == bus.KindPropertiesChanged && msg.Path == bus.DASD.ObjectPath() {
			changes = append(changes, msg.Changed)
		}
	}))

	p := bus.NewProxy(b, bus.DASD.ObjectPath())
	_, err = p.Call(t.Context(), "SetFormatLDLEnabled", true)
	require.NoError(t, err)
	_, err = p.Call(t.Context(), "SetFormatUnrecognizedEnabled", true)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{
		{"FormatLDLEnabled": true},
		{"FormatUnrecognizedEnabled": true},
	}, changes)

	_, err = p.Call(t.Context(), "Rescan")
	require.NoError(t, err)
}
