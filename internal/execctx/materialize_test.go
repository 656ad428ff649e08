package execctx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/execctx"
	"github.com/flowcore/flowcore/internal/objectstore"
)

func TestMaterialize_ResolvesActionsAndTrigger(t *testing.T) {
	store := objectstore.New(objectstore.NewMemoryBackend(), "bucket")
	ctx := context.Background()

	resultObj, err := store.Store(ctx, "result-a", map[string]any{"status": 200})
	require.NoError(t, err)
	triggerObj, err := store.Store(ctx, "trigger", map[string]any{"event": "push"})
	require.NoError(t, err)

	execCtx := dsl.NewExecutionContext()
	execCtx.Actions["a"] = dsl.TaskResult{Result: resultObj}
	execCtx.Actions["b"] = dsl.TaskResult{Error: &dsl.ErrorInfo{Type: "EXECUTION", Message: "boom"}}
	execCtx.Trigger = &triggerObj

	mat, err := execctx.Materialize(ctx, store, execCtx)
	require.NoError(t, err)

	require.Nil(t, mat.Actions["a"].Error)
	require.Equal(t, float64(200), mat.Actions["a"].Value.(map[string]any)["status"])
	require.NotNil(t, mat.Actions["b"].Error)
	require.Equal(t, "push", mat.Trigger.(map[string]any)["event"])
}

func TestMaterialize_AbortsOnResolutionFailure(t *testing.T) {
	store := objectstore.New(objectstore.NewMemoryBackend(), "bucket")
	ctx := context.Background()

	execCtx := dsl.NewExecutionContext()
	execCtx.Actions["missing"] = dsl.TaskResult{Result: objectstore.StoredObject{
		Type:   objectstore.KindExternal,
		Bucket: "bucket",
		Key:    "does-not-exist",
		SHA256: "deadbeef",
	}}

	_, err := execctx.Materialize(ctx, store, execCtx)
	require.Error(t, err)
}
