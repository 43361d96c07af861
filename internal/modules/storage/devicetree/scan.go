package devicetree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sectorSize = 512

// Scan builds a tree from the block devices listed in <sysfsRoot>/sys/block.
// Partitions and virtual devices without a backing device are skipped. A
// system without the block class yields an empty tree.
func Scan(sysfsRoot string) (*Tree, error) {
	dir := filepath.Join(sysfsRoot, "sys", "block")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return New()
	}
	if err != nil {
		return nil, fmt.Errorf("scanning block devices: %w", err)
	}

	t := &Tree{}
	for _, e := range entries {
		name := e.Name()
		link, err := os.Readlink(filepath.Join(dir, name, "device"))
		if err != nil {
			continue
		}
		d := Device{
			Name:  name,
			Type:  TypeDisk,
			BusID: filepath.Base(link),
		}
		if strings.HasPrefix(name, "dasd") {
			d.Type = TypeDASD
		}
		if b, err := os.ReadFile(filepath.Join(dir, name, "size")); err == nil {
			if sectors, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64); err == nil {
				d.Size = sectors * sectorSize
			}
		}
		if err := t.Add(d); err != nil {
			return nil, err
		}
	}
	return t, nil
}
