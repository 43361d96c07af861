package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/CZERTAINLY/Modulus/internal/bus"
	"github.com/CZERTAINLY/Modulus/internal/container"
	"github.com/CZERTAINLY/Modulus/internal/metrics"
	"github.com/CZERTAINLY/Modulus/internal/task"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestModuleLabel(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{scenario: "module task", given: "/com/czertainly/Modulus/Modules/Security/Task/1", then: "Security"},
		{scenario: "nested object", given: "/com/czertainly/Modulus/Modules/Payloads/Payload/2/Packages", then: "Payloads"},
		{scenario: "outside modules", given: "/com/czertainly/Modulus/Boss", then: "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.then, metrics.ModuleLabel(tc.given))
		})
	}
}

func TestWatch(t *testing.T) {
	b := bus.New()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, metrics.Watch(ctx, b))

	tasks := container.NewTaskContainer(b)
	tasks.SetNamespace(bus.ModulesNamespace.Join("Metrics"))

	ok := task.New("ok", func(context.Context, *task.Reporter) (any, error) { return nil, nil })
	_, err := tasks.ToObjectPath(ok)
	require.NoError(t, err)
	require.NoError(t, ok.Run(t.Context()))

	bad := task.New("bad", func(context.Context, *task.Reporter) (any, error) { return nil, context.DeadlineExceeded })
	_, err = tasks.ToObjectPath(bad)
	require.NoError(t, err)
	require.ErrorIs(t, bad.Run(t.Context()), task.ErrExecution)

	counter := func(signal string) float64 {
		return testutil.ToFloat64(metrics.TaskTransitions.WithLabelValues("Metrics", signal))
	}
	require.Equal(t, 2.0, counter("Started"))
	require.Equal(t, 1.0, counter("Succeeded"))
	require.Equal(t, 1.0, counter("Failed"))
	require.Equal(t, 2.0, counter("Stopped"))

	metrics.RecordInstallation(true, time.Second)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Installations.WithLabelValues("true")))
}
