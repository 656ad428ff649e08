package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/engine"
	"github.com/flowcore/flowcore/internal/engine/inmem"
	"github.com/flowcore/flowcore/internal/objectstore"
)

func newTestStore() *objectstore.Store {
	return objectstore.New(objectstore.NewMemoryBackend(), "test")
}

// passthroughEvaluator implements dsl.Evaluator without any expression
// engine: run_if is parsed as a literal "true"/"false", for_each is
// unused by these tests, and args pass through unevaluated.
type passthroughEvaluator struct{}

func (passthroughEvaluator) EvalBool(_ context.Context, expr string, _ *dsl.ExecutionContext) (bool, error) {
	return expr != "false", nil
}

func (passthroughEvaluator) EvalIterables(context.Context, []string, *dsl.ExecutionContext) ([][]any, error) {
	return nil, nil
}

func (passthroughEvaluator) EvalArgs(_ context.Context, args map[string]any, _ *dsl.ExecutionContext) (map[string]any, error) {
	return args, nil
}

func TestExecuteWorkflow_RunsDependentStatementsInOrder(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, input any) (any, error) {
			inv := input.(ActionInvocation)
			stored, err := store.Store(context.Background(), inv.Ref, inv.Ref+"-done")
			if err != nil {
				return nil, err
			}
			return dsl.TaskResult{Result: stored, ResultTypename: stored.Typename}, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    ExecuteWorkflowName,
		Handler: NewExecuteWorkflow(eng, store, passthroughEvaluator{}, ""),
	}))

	wf := dsl.Workflow{
		ID: "wf-1",
		Statements: []dsl.ActionStatement{
			{Ref: "a", Action: "core.noop"},
			{Ref: "b", Action: "core.noop", DependsOn: []string{"a"}},
		},
	}

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "exec-1",
		Workflow: ExecuteWorkflowName,
		Input: ExecuteWorkflowInput{
			Workflow:    wf,
			ExecutionID: dsl.NewExecutionID("wf-1", "run-1"),
		},
	})
	require.NoError(t, err)

	var out ExecuteWorkflowOutput
	require.NoError(t, h.Wait(ctx, &out))
	require.Len(t, out.Context.Actions, 2)
	require.False(t, out.Context.Actions["a"].Failed())
	require.False(t, out.Context.Actions["b"].Failed())
}

func TestExecuteWorkflow_SkipPropagatesTransitively(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, input any) (any, error) {
			inv := input.(ActionInvocation)
			stored, err := store.Store(context.Background(), inv.Ref, true)
			if err != nil {
				return nil, err
			}
			return dsl.TaskResult{Result: stored}, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    ExecuteWorkflowName,
		Handler: NewExecuteWorkflow(eng, store, passthroughEvaluator{}, ""),
	}))

	wf := dsl.Workflow{
		ID: "wf-2",
		Statements: []dsl.ActionStatement{
			{Ref: "a", Action: "core.noop", RunIf: "false"},
			{Ref: "b", Action: "core.noop", DependsOn: []string{"a"}},
			{Ref: "c", Action: "core.noop", DependsOn: []string{"b"}},
		},
	}

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "exec-2",
		Workflow: ExecuteWorkflowName,
		Input: ExecuteWorkflowInput{
			Workflow:    wf,
			ExecutionID: dsl.NewExecutionID("wf-2", "run-1"),
		},
	})
	require.NoError(t, err)

	var out ExecuteWorkflowOutput
	require.NoError(t, h.Wait(ctx, &out))
	// "a" was skipped by run_if, so neither "b" nor "c" ever dispatched;
	// the scheduler does not record a TaskResult for skipped statements.
	require.NotContains(t, out.Context.Actions, "a")
	require.NotContains(t, out.Context.Actions, "b")
	require.NotContains(t, out.Context.Actions, "c")
}

func TestNewDetachedActionWorkflow_RunsSingleInvocation(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()

	require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: RunActionActivity,
		Handler: func(_ context.Context, input any) (any, error) {
			inv := input.(ActionInvocation)
			require.Equal(t, "notify", inv.Ref)
			return dsl.TaskResult{}, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    DetachedActionWorkflowName,
		Handler: NewDetachedActionWorkflow(""),
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "detached-1",
		Workflow: DetachedActionWorkflowName,
		Input:    ActionInvocation{Ref: "notify", ActionKey: "core.notify"},
	})
	require.NoError(t, err)

	var result dsl.TaskResult
	require.NoError(t, h.Wait(ctx, &result))
	require.False(t, result.Failed())
}
