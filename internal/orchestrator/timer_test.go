package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWaitUntil_AcceptsKnownLayouts(t *testing.T) {
	cases := []string{
		"2026-08-01T12:00:00Z",
		"2026-08-01T12:00:00.123Z",
		"2026-08-01T12:00:00",
		"2026-08-01 12:00:00",
		"2026-08-01",
	}
	for _, c := range cases {
		_, err := ParseWaitUntil(c)
		require.NoError(t, err, "layout for %q", c)
	}
}

func TestParseWaitUntil_RejectsUnrecognized(t *testing.T) {
	_, err := ParseWaitUntil("next tuesday")
	require.Error(t, err)
}

func TestAwaitDispatchTime_ReturnsImmediatelyWhenAlreadyDue(t *testing.T) {
	out, err := AwaitDispatchTime(context.Background(), DispatchTimerInput{
		WaitUntil: "2000-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, true, out)
}

func TestAwaitDispatchTime_WaitsForStartDelay(t *testing.T) {
	start := time.Now()
	out, err := AwaitDispatchTime(context.Background(), DispatchTimerInput{
		StartDelay: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, true, out)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestAwaitDispatchTime_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := AwaitDispatchTime(ctx, DispatchTimerInput{StartDelay: time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwaitDispatchTime_RejectsWrongInputType(t *testing.T) {
	_, err := AwaitDispatchTime(context.Background(), "not-a-timer-input")
	require.Error(t, err)
}
