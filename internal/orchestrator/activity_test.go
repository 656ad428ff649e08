package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/objectstore"
	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/registry/store/memory"
)

// literalEvaluator treats run_if as a literal "true"/"false", passes
// args through unevaluated, and resolves a "returns" lookup by either
// echoing a literal or decoding the inline value of ACTIONS[ref].result
// for a bare ref.
type literalEvaluator struct{}

func (literalEvaluator) EvalBool(_ context.Context, expr string, _ *dsl.ExecutionContext) (bool, error) {
	return expr != "false", nil
}

func (literalEvaluator) EvalIterables(context.Context, []string, *dsl.ExecutionContext) ([][]any, error) {
	return nil, nil
}

func (literalEvaluator) EvalArgs(_ context.Context, args map[string]any, execCtx *dsl.ExecutionContext) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		expr, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		if result, ok := execCtx.Actions[expr]; ok {
			var value any
			if err := json.Unmarshal(result.Result.Data, &value); err != nil {
				return nil, err
			}
			out[k] = value
			continue
		}
		out[k] = expr
	}
	return out, nil
}

func newTestResolver(t *testing.T, actions ...registry.ManifestAction) *registry.Resolver {
	t.Helper()
	manifest := make(map[string]registry.ManifestAction, len(actions))
	for _, a := range actions {
		manifest[a.Key()] = a
	}
	s := memory.New()
	require.NoError(t, s.SaveVersion(context.Background(), registry.RegistryVersion{
		Origin:   "test-origin",
		Version:  "v1",
		Manifest: manifest,
	}))
	resolver, err := registry.New(s, 0)
	require.NoError(t, err)
	return resolver
}

func lockFor(keys ...string) dsl.RegistryLock {
	actions := make(map[string]string, len(keys))
	for _, k := range keys {
		actions[k] = "test-origin"
	}
	lock, err := dsl.NewRegistryLock(map[string]string{"test-origin": "v1"}, actions)
	if err != nil {
		panic(err)
	}
	return lock
}

// TestActivitySet_RunTemplate_ResolvesNestedSteps exercises runTemplate
// against a template action whose steps are themselves leaf templates
// (no udf implementation), so the whole walk stays in-process without
// needing the sandboxed subprocess runner.
func TestActivitySet_RunTemplate_ResolvesNestedSteps(t *testing.T) {
	childA := registry.ManifestAction{
		Namespace: "demo", Name: "child_a", Type: registry.ActionTypeTemplate,
		Template: &registry.TemplateImplementation{Returns: "a-result"},
	}
	childB := registry.ManifestAction{
		Namespace: "demo", Name: "child_b", Type: registry.ActionTypeTemplate,
		Template: &registry.TemplateImplementation{Returns: "b-result"},
	}
	parent := registry.ManifestAction{
		Namespace: "demo", Name: "parent", Type: registry.ActionTypeTemplate,
		Template: &registry.TemplateImplementation{
			Steps: []registry.TemplateStep{
				{Ref: "s1", Action: "demo.child_a"},
				{Ref: "s2", Action: "demo.child_b", DependsOn: []string{"s1"}, Args: map[string]any{"from": "s1"}},
			},
			Returns: "s2",
		},
	}

	resolver := newTestResolver(t, childA, childB, parent)
	store := objectstore.New(objectstore.NewMemoryBackend(), "test")
	activities := NewActivitySet(resolver, nil, store, literalEvaluator{})

	inv := ActionInvocation{
		ExecutionID: dsl.NewExecutionID("wf-1", "run-1"),
		Stream:      dsl.RootStream,
		Ref:         "parent",
		ActionKey:   "demo.parent",
		Lock:        lockFor("demo.parent", "demo.child_a", "demo.child_b"),
	}

	result, err := activities.RunAction(context.Background(), inv)
	require.NoError(t, err)
	taskResult := result.(dsl.TaskResult)
	require.False(t, taskResult.Failed())

	stored := taskResult.Result
	value, err := store.Retrieve(context.Background(), stored)
	require.NoError(t, err)
	require.Equal(t, "b-result", value)
}

// TestActivitySet_RunTemplate_SkipPropagatesThroughSteps mirrors the
// top-level scheduler's transitive-skip behavior inside a single
// template's step walk: a run_if-false step's descendants never run.
func TestActivitySet_RunTemplate_SkipPropagatesThroughSteps(t *testing.T) {
	leaf := registry.ManifestAction{
		Namespace: "demo", Name: "leaf", Type: registry.ActionTypeTemplate,
		Template: &registry.TemplateImplementation{Returns: "should-not-run"},
	}
	parent := registry.ManifestAction{
		Namespace: "demo", Name: "gate", Type: registry.ActionTypeTemplate,
		Template: &registry.TemplateImplementation{
			Steps: []registry.TemplateStep{
				{Ref: "s1", Action: "demo.leaf", RunIf: "false"},
				{Ref: "s2", Action: "demo.leaf", DependsOn: []string{"s1"}},
			},
			Returns: "done",
		},
	}

	resolver := newTestResolver(t, leaf, parent)
	store := objectstore.New(objectstore.NewMemoryBackend(), "test")
	activities := NewActivitySet(resolver, nil, store, literalEvaluator{})

	inv := ActionInvocation{
		ExecutionID: dsl.NewExecutionID("wf-2", "run-1"),
		Stream:      dsl.RootStream,
		Ref:         "gate",
		ActionKey:   "demo.gate",
		Lock:        lockFor("demo.gate", "demo.leaf"),
	}

	result, err := activities.RunAction(context.Background(), inv)
	require.NoError(t, err)
	taskResult := result.(dsl.TaskResult)
	require.False(t, taskResult.Failed())

	stored := taskResult.Result
	value, err := store.Retrieve(context.Background(), stored)
	require.NoError(t, err)
	require.Equal(t, "done", value)
}

func TestActivitySet_RunTemplate_RejectsExcessRecursionDepth(t *testing.T) {
	self := registry.ManifestAction{
		Namespace: "demo", Name: "recur", Type: registry.ActionTypeTemplate,
		Template: &registry.TemplateImplementation{
			Steps:   []registry.TemplateStep{{Ref: "again", Action: "demo.recur"}},
			Returns: "again",
		},
	}

	resolver := newTestResolver(t, self)
	store := objectstore.New(objectstore.NewMemoryBackend(), "test")
	activities := NewActivitySet(resolver, nil, store, literalEvaluator{})

	inv := ActionInvocation{
		ExecutionID:   dsl.NewExecutionID("wf-3", "run-1"),
		Stream:        dsl.RootStream,
		Ref:           "recur",
		ActionKey:     "demo.recur",
		Lock:          lockFor("demo.recur"),
		TemplateDepth: MaxTemplateDepth,
	}

	result, err := activities.RunAction(context.Background(), inv)
	require.NoError(t, err)
	taskResult := result.(dsl.TaskResult)
	require.True(t, taskResult.Failed())
}

func TestActivitySet_RunAction_RejectsWrongInputType(t *testing.T) {
	resolver := newTestResolver(t)
	store := objectstore.New(objectstore.NewMemoryBackend(), "test")
	activities := NewActivitySet(resolver, nil, store, literalEvaluator{})

	_, err := activities.RunAction(context.Background(), "not-an-invocation")
	require.Error(t, err)
}
