// Package devicetree is the in-memory model of the storage devices known
// to the installer.
package devicetree

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrDeviceExists  = errors.New("device already exists")
	ErrUnknownDevice = errors.New("unknown device")
)

const (
	TypeDASD = "dasd"
	TypeDisk = "disk"
)

type Device struct {
	Name   string
	Type   string
	BusID  string
	Format string
	Size   uint64
}

// Tree is safe for concurrent use.
type Tree struct {
	mx      sync.RWMutex
	devices []Device
}

func New(devices ...Device) (*Tree, error) {
	t := &Tree{}
	for _, d := range devices {
		if err := t.Add(d); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) Add(d Device) error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if slices.ContainsFunc(t.devices, func(x Device) bool { return x.Name == d.Name }) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.Name)
	}
	t.devices = append(t.devices, d)
	return nil
}

func (t *Tree) Get(name string) (Device, error) {
	t.mx.RLock()
	defer t.mx.RUnlock()
	idx := slices.IndexFunc(t.devices, func(x Device) bool { return x.Name == name })
	if idx == -1 {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return t.devices[idx], nil
}

// Devices returns devices in the order they were added.
func (t *Tree) Devices() []Device {
	t.mx.RLock()
	defer t.mx.RUnlock()
	return slices.Clone(t.devices)
}
