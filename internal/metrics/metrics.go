// Package metrics exports prometheus counters of task transitions and
// installation runs.
package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	TaskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modulus",
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Task signals emitted on the bus.",
		},
		[]string{"module", "signal"},
	)
	Installations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modulus",
			Subsystem: "installation",
			Name:      "runs_total",
			Help:      "Finished installation runs.",
		},
		[]string{"success"},
	)
	InstallationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modulus",
			Subsystem: "installation",
			Name:      "duration_seconds",
			Help:      "Duration of installation runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TaskTransitions, Installations, InstallationDuration)
	})
}

// Watch counts task signals seen on b until ctx is done.
func Watch(ctx context.Context, b *bus.Bus) error {
	return b.Subscribe(ctx, func(msg bus.Message) {
		if msg.Kind != bus.KindSignal || msg.Interface != bus.TaskInterface {
			return
		}
		TaskTransitions.WithLabelValues(ModuleLabel(msg.Path), msg.Member).Inc()
	})
}

// ModuleLabel returns the module owning the object at path, e.g. Security
// for /com/czertainly/Modulus/Modules/Security/Task/1.
func ModuleLabel(path string) string {
	rest, ok := strings.CutPrefix(path, bus.ModulesNamespace.ObjectPath()+"/")
	if !ok {
		return "unknown"
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

func RecordInstallation(success bool, duration time.Duration) {
	label := "false"
	if success {
		label = "true"
	}
	Installations.WithLabelValues(label).Inc()
	InstallationDuration.Observe(duration.Seconds())
}
