package dasd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/CZERTAINLY/Modulus/internal/task"
)

// NewDiscoverTask brings the DASD devnum online. The result is the
// sanitized device number.
func NewDiscoverTask(blockdev Blockdev, devnum string) *task.Task {
	return task.New("Discover a DASD", func(ctx context.Context, r *task.Reporter) (any, error) {
		sanitized, err := SanitizeDeviceNumber(devnum)
		if err != nil {
			return nil, err
		}
		if err := blockdev.Online(ctx, sanitized); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageDiscovery, sanitized, err)
		}
		r.Report(1, "DASD "+sanitized+" is online")
		slog.InfoContext(ctx, "DASD is online", "devnum", sanitized)
		return sanitized, nil
	}, task.WithSteps(1))
}

// NewFormatTask formats dasds one by one. Cancellation is observed between
// devices, a started format always completes.
func NewFormatTask(blockdev Blockdev, dasds []string) *task.Task {
	dasds = slices.Clone(dasds)
	return task.New("Format DASDs", func(ctx context.Context, r *task.Reporter) (any, error) {
		for i, name := range dasds {
			if err := r.Checkpoint(); err != nil {
				return nil, err
			}
			r.Report(i, "formatting "+name)
			slog.InfoContext(ctx, "formatting DASD", "device", name)
			if err := blockdev.Format(ctx, name); err != nil {
				return nil, fmt.Errorf("formatting %s: %w", name, err)
			}
		}
		r.Report(len(dasds), "formatted")
		return nil, nil
	}, task.WithSteps(len(dasds)))
}
