package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/engine"
	"github.com/flowcore/flowcore/internal/engine/inmem"
	"github.com/flowcore/flowcore/internal/errs"
	"github.com/flowcore/flowcore/internal/objectstore"
)

// fakeEvaluator implements dsl.Evaluator with just enough behavior for
// Dispatcher tests: EvalBool reports whether ACTIONS[retryUntilRef]'s
// error type equals the configured stopType.
type fakeEvaluator struct {
	stopType string
}

func (f *fakeEvaluator) EvalBool(_ context.Context, _ string, execCtx *dsl.ExecutionContext) (bool, error) {
	for _, result := range execCtx.Actions {
		if result.Error != nil && result.Error.Type == f.stopType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEvaluator) EvalIterables(context.Context, []string, *dsl.ExecutionContext) ([][]any, error) {
	return nil, nil
}

func (f *fakeEvaluator) EvalArgs(_ context.Context, args map[string]any, _ *dsl.ExecutionContext) (map[string]any, error) {
	return args, nil
}

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	return inmem.New()
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, _ any) (any, error) {
			n := calls.Add(1)
			if n < 3 {
				return dsl.TaskResult{Error: &dsl.ErrorInfo{Type: "EXECUTION", Message: "transient"}}, nil
			}
			return dsl.TaskResult{Result: objectstore.StoredObject{Type: objectstore.KindInline, Data: []byte("1")}}, nil
		},
	}))

	dispatcher := NewDispatcher(eng, "", newTestStore(), &fakeEvaluator{}, dsl.RegistryLock{}, dsl.NewExecutionContext())

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "probe",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			st := dsl.ActionStatement{Ref: "r1", Action: "core.noop", Retry: dsl.RetryPolicy{MaxAttempts: 5}}
			return dispatcher.Dispatch(wfCtx.Context(), dsl.ExecutionID("wf:run-1"), dsl.RootStream, st, nil, 1)
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "probe-1", Workflow: "probe"})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.False(t, result.Failed())
	require.EqualValues(t, 3, calls.Load())
}

func TestDispatcher_StopsRetryingWhenRetryUntilSatisfied(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var calls atomic.Int32
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, _ any) (any, error) {
			calls.Add(1)
			return dsl.TaskResult{Error: &dsl.ErrorInfo{Type: "ENTITLEMENT", Message: "no quota"}}, nil
		},
	}))

	dispatcher := NewDispatcher(eng, "", newTestStore(), &fakeEvaluator{stopType: "ENTITLEMENT"}, dsl.RegistryLock{}, dsl.NewExecutionContext())

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "probe-stop",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			st := dsl.ActionStatement{Ref: "r1", Action: "core.noop", Retry: dsl.RetryPolicy{MaxAttempts: 5, RetryUntil: "stop"}}
			return dispatcher.Dispatch(wfCtx.Context(), dsl.ExecutionID("wf:run-2"), dsl.RootStream, st, nil, 1)
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "probe-stop-1", Workflow: "probe-stop"})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.True(t, result.Failed())
	require.EqualValues(t, 1, calls.Load())
}

func TestDispatcher_DetachStartsWorkflowWithoutWaiting(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	started := make(chan struct{}, 1)
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: DetachedActionWorkflowName,
		Handler: func(_ engine.WorkflowContext, _ any) (any, error) {
			started <- struct{}{}
			return nil, nil
		},
	}))

	dispatcher := NewDispatcher(eng, "", newTestStore(), &fakeEvaluator{}, dsl.RegistryLock{}, dsl.NewExecutionContext())

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "probe-detach",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			st := dsl.ActionStatement{Ref: "r1", Action: "core.noop", WaitStrategy: dsl.WaitDetach}
			return dispatcher.Dispatch(wfCtx.Context(), dsl.ExecutionID("wf:run-3"), dsl.RootStream, st, nil, 1)
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "probe-detach-1", Workflow: "probe-detach"})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.False(t, result.Failed())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("detached workflow was never started")
	}
}

func TestDispatcher_AwaitsDispatchTimeBeforeRunningAction(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var order []string
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: AwaitDispatchActivity,
		Handler: func(_ context.Context, _ any) (any, error) {
			order = append(order, "await")
			return true, nil
		},
	}))
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, _ any) (any, error) {
			order = append(order, "run")
			return dsl.TaskResult{}, nil
		},
	}))

	dispatcher := NewDispatcher(eng, "", newTestStore(), &fakeEvaluator{}, dsl.RegistryLock{}, dsl.NewExecutionContext())

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "probe-delay",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			st := dsl.ActionStatement{Ref: "r1", Action: "core.noop", StartDelay: time.Millisecond}
			return dispatcher.Dispatch(wfCtx.Context(), dsl.ExecutionID("wf:run-4"), dsl.RootStream, st, nil, 1)
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "probe-delay-1", Workflow: "probe-delay"})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.Equal(t, []string{"await", "run"}, order)
}

// forEachEvaluator resolves a for_each expression to a fixed iterable
// and echoes args["item"] back from VAR, so tests can assert that
// dispatchForEach evaluates args per iteration rather than once.
type forEachEvaluator struct {
	iterables map[string][][]any
}

func (e forEachEvaluator) EvalBool(context.Context, string, *dsl.ExecutionContext) (bool, error) {
	return true, nil
}

func (e forEachEvaluator) EvalIterables(_ context.Context, exprs []string, _ *dsl.ExecutionContext) ([][]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	return e.iterables[exprs[0]], nil
}

func (e forEachEvaluator) EvalArgs(_ context.Context, args map[string]any, execCtx *dsl.ExecutionContext) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == "$var" {
			out[k] = execCtx.Var
			continue
		}
		out[k] = v
	}
	return out, nil
}

func TestDispatcher_ForEach_DispatchesOncePerItemAsSingleResult(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	var seen []any
	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, input any) (any, error) {
			inv := input.(ActionInvocation)
			seen = append(seen, inv.Args["item"])
			return dsl.TaskResult{Result: objectstore.StoredObject{Type: objectstore.KindInline, Data: []byte("1")}}, nil
		},
	}))

	evaluator := forEachEvaluator{iterables: map[string][][]any{"items": {{"a", "b", "c"}}}}
	store := newTestStore()
	dispatcher := NewDispatcher(eng, "", store, evaluator, dsl.RegistryLock{}, dsl.NewExecutionContext())

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "probe-foreach",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			st := dsl.ActionStatement{
				Ref: "fan", Action: "core.noop",
				ForEach: []string{"items"},
				Args:    map[string]any{"item": "$var"},
			}
			return dispatcher.Dispatch(wfCtx.Context(), dsl.ExecutionID("wf:run-5"), dsl.RootStream, st, nil, 1)
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "probe-foreach-1", Workflow: "probe-foreach"})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.False(t, result.Failed())
	require.Equal(t, []any{"a", "b", "c"}, seen)

	value, err := store.Retrieve(ctx, result.Result)
	require.NoError(t, err)
	require.Len(t, value, 3)
}

func TestDispatcher_ForEach_AggregatesFailuresAsSingleLoopError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, input any) (any, error) {
			inv := input.(ActionInvocation)
			if inv.Args["item"] == "bad" {
				return dsl.TaskResult{Error: &dsl.ErrorInfo{Type: "EXECUTION", Message: "boom"}}, nil
			}
			return dsl.TaskResult{Result: objectstore.StoredObject{Type: objectstore.KindInline, Data: []byte("1")}}, nil
		},
	}))

	evaluator := forEachEvaluator{iterables: map[string][][]any{"items": {{"good", "bad"}}}}
	dispatcher := NewDispatcher(eng, "", newTestStore(), evaluator, dsl.RegistryLock{}, dsl.NewExecutionContext())

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "probe-foreach-fail",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			st := dsl.ActionStatement{
				Ref: "fan", Action: "core.noop",
				ForEach: []string{"items"},
				Args:    map[string]any{"item": "$var"},
			}
			return dispatcher.Dispatch(wfCtx.Context(), dsl.ExecutionID("wf:run-6"), dsl.RootStream, st, nil, 1)
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "probe-foreach-fail-1", Workflow: "probe-foreach-fail"})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.True(t, result.Failed())
	require.Equal(t, string(errs.KindLoopExecution), result.Error.Type)
}
