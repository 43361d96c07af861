// Package dasd is the storage submodule discovering and formatting s390
// DASD devices.
package dasd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/CZERTAINLY/Modulus/internal/kickstart"
	"github.com/CZERTAINLY/Modulus/internal/module"
	"github.com/CZERTAINLY/Modulus/internal/modules/storage/devicetree"
	"github.com/CZERTAINLY/Modulus/internal/signal"
	"github.com/CZERTAINLY/Modulus/internal/task"
)

var (
	ErrUnavailableStorage = errors.New("storage is not available")
	ErrUnknownDevice      = errors.New("unknown device")
	ErrStorageDiscovery   = errors.New("storage discovery failed")
)

type Module struct {
	module.Base
	blockdev Blockdev

	mx                 sync.Mutex
	storage            *devicetree.Tree
	formatUnrecognized bool
	formatLDL          bool
	discovered         []string

	scan               ScanFunc

	DevicesChanged            signal.Changed
	FormatUnrecognizedChanged signal.Changed
	FormatLDLChanged          signal.Changed
}

// ScanFunc builds the device tree of the running system.
type ScanFunc func() (*devicetree.Tree, error)

type Option func(*Module)

// WithScan makes the module rebuild its device tree with scan on Rescan and
// after every successful discovery.
func WithScan(scan ScanFunc) Option {
	return func(m *Module) { m.scan = scan }
}

func New(blockdev Blockdev, opts ...Option) *Module {
	m := &Module{blockdev: blockdev}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rescan replaces the device tree with a fresh scan. Without a scan
// function it does nothing.
func (m *Module) Rescan() error {
	if m.scan == nil {
		return nil
	}
	tree, err := m.scan()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageDiscovery, err)
	}
	m.OnStorageChanged(tree)
	slog.Debug("storage scanned", "devices", len(tree.Devices()))
	return nil
}

// OnStorageChanged replaces the device tree the module works with.
func (m *Module) OnStorageChanged(storage *devicetree.Tree) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.storage = storage
}

func (m *Module) OnFormatUnrecognizedEnabledChanged(enabled bool) {
	m.mx.Lock()
	m.formatUnrecognized = enabled
	m.mx.Unlock()
	m.FormatUnrecognizedChanged.Emit()
}

func (m *Module) OnFormatLDLEnabledChanged(enabled bool) {
	m.mx.Lock()
	m.formatLDL = enabled
	m.mx.Unlock()
	m.FormatLDLChanged.Emit()
}

// FormatPolicy returns the format unrecognized and format LDL flags.
func (m *Module) FormatPolicy() (unrecognized, ldl bool) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.formatUnrecognized, m.formatLDL
}

// Discovered returns the sanitized numbers of devices brought online.
func (m *Module) Discovered() []string {
	m.mx.Lock()
	defer m.mx.Unlock()
	return slices.Clone(m.discovered)
}

func (m *Module) addDiscovered(devnum string) {
	m.mx.Lock()
	if slices.Contains(m.discovered, devnum) {
		m.mx.Unlock()
		return
	}
	m.discovered = append(m.discovered, devnum)
	m.mx.Unlock()
	m.DevicesChanged.Emit()
	slog.Debug("DASD discovered", "devnum", devnum)
}

// FindFormattable returns, in the order of names, the DASDs which are
// allowed to be formatted by the current policy.
func (m *Module) FindFormattable(ctx context.Context, names []string) ([]string, error) {
	m.mx.Lock()
	storage, unrecognized, ldl := m.storage, m.formatUnrecognized, m.formatLDL
	m.mx.Unlock()
	if storage == nil {
		return nil, ErrUnavailableStorage
	}

	ret := []string{}
	for _, name := range names {
		dev, err := storage.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
		}
		if dev.Type != devicetree.TypeDASD {
			continue
		}
		ok, err := m.formattable(ctx, dev, unrecognized, ldl)
		if err != nil {
			return nil, err
		}
		if ok {
			ret = append(ret, name)
		}
	}
	return ret, nil
}

func (m *Module) formattable(ctx context.Context, dev devicetree.Device, unrecognized, ldl bool) (bool, error) {
	if unrecognized {
		needs, err := m.blockdev.NeedsFormat(dev.BusID)
		if err != nil {
			return false, fmt.Errorf("checking format of %s: %w", dev.Name, err)
		}
		if needs {
			return true, nil
		}
	}
	if ldl {
		isLDL, err := m.blockdev.IsLDL(ctx, dev.Name)
		if err != nil {
			return false, fmt.Errorf("checking layout of %s: %w", dev.Name, err)
		}
		if isLDL {
			return true, nil
		}
	}
	return false, nil
}

// DiscoverWithTask returns the task bringing the DASD devnum online. The
// device tree is rescanned once the device is online.
func (m *Module) DiscoverWithTask(devnum string) *task.Task {
	t := NewDiscoverTask(m.blockdev, devnum)
	t.Succeeded.Connect(func(t *task.Task) {
		sanitized, err := task.ResultAs[string](t)
		if err != nil {
			slog.Error("unexpected DASD discovery result", "error", err)
			return
		}
		if err := m.Rescan(); err != nil {
			slog.Warn("can't rescan storage after discovery", "devnum", sanitized, "error", err)
		}
		m.addDiscovered(sanitized)
	})
	return t
}

// FormatWithTask returns the task formatting dasds in the given order.
func (m *Module) FormatWithTask(dasds []string) *task.Task {
	return NewFormatTask(m.blockdev, dasds)
}

func (m *Module) KickstartCommands() []string { return []string{"dasd"} }

type dasdSection struct {
	FormatUnrecognized bool `toml:"format_unrecognized"`
	FormatLDL          bool `toml:"format_ldl"`
}

func (m *Module) ProcessKickstart(doc *kickstart.Document) error {
	var sec dasdSection
	ok, err := doc.Section("dasd", &sec)
	if err != nil || !ok {
		return err
	}
	m.OnFormatUnrecognizedEnabledChanged(sec.FormatUnrecognized)
	m.OnFormatLDLEnabledChanged(sec.FormatLDL)
	return nil
}

func (m *Module) SetupKickstart(doc *kickstart.Document) error {
	unrecognized, ldl := m.FormatPolicy()
	if unrecognized || ldl {
		doc.SetSection("dasd", dasdSection{FormatUnrecognized: unrecognized, FormatLDL: ldl})
	}
	return nil
}
