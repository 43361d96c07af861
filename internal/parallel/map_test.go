package parallel_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/CZERTAINLY/Modulus/internal/parallel"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(_ context.Context, d time.Duration) (int, error) {
		time.Sleep(d)
		return int(d), nil
	}

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	expected := []int{
		int(1 * time.Second),
		int(2 * time.Second),
		int(5 * time.Second),
		int(10 * time.Second),
	}

	var testCases = []struct {
		scenario string
		given    int
		then     time.Duration
	}{
		{"limit 1", 1, 18 * time.Second},
		{"limit 10", 10, 10 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				var got []int
				for d, err := range parallel.NewMap(t.Context(), tt.given, f).Iter(parallel.Slice(input)) {
					require.NoError(t, err)
					got = append(got, d)
				}
				require.ElementsMatch(t, expected, got)
				require.Equal(t, tt.then, time.Since(start))
			})
		})
	}
}

func TestCollect(t *testing.T) {
	t.Parallel()
	errOdd := errors.New("odd")
	f := func(_ context.Context, n int) (int, error) {
		if n%2 == 1 {
			return 0, errOdd
		}
		return n * 10, nil
	}

	got, err := parallel.Collect(t.Context(), 2, []int{1, 2, 3, 4}, f)
	require.ErrorIs(t, err, errOdd)
	require.ElementsMatch(t, []int{20, 40}, got)

	got, err = parallel.Collect(t.Context(), 2, []int{2, 4}, f)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{20, 40}, got)

	got, err = parallel.Collect(t.Context(), 2, []int{}, f)
	require.NoError(t, err)
	require.Empty(t, got)
}
