package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorker_DeadReflectsMarkDead(t *testing.T) {
	w := &Worker{}
	require.False(t, w.Dead())

	w.MarkDead()
	require.True(t, w.Dead())
}

func TestWorker_BeginEndTracksActiveAndCompleted(t *testing.T) {
	w := &Worker{}
	w.begin()
	w.begin()
	require.Equal(t, 2, w.ActiveTasks())

	active, shouldRecycle := w.end(0)
	require.Equal(t, 1, active)
	require.False(t, shouldRecycle)
	require.Equal(t, 1, w.TasksCompleted())
}

func TestWorker_EndRecyclesAtMaxTasksPerWorker(t *testing.T) {
	w := &Worker{}
	w.begin()
	active, shouldRecycle := w.end(1)
	require.Equal(t, 0, active)
	require.True(t, shouldRecycle)
	require.True(t, w.Recycling())
}
