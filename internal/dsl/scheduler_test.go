package dsl

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowcore/flowcore/internal/objectstore"
)

// stubEvaluator treats run_if as a literal lookup in a fixed map and
// for_each as a literal lookup of pre-built iterables, so tests never
// depend on a real expression engine.
type stubEvaluator struct {
	runIf     map[string]bool
	iterables map[string][][]any
}

func (e stubEvaluator) EvalBool(_ context.Context, expr string, _ *ExecutionContext) (bool, error) {
	v, ok := e.runIf[expr]
	if !ok {
		return true, nil
	}
	return v, nil
}

func (e stubEvaluator) EvalIterables(_ context.Context, exprs []string, _ *ExecutionContext) ([][]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	return e.iterables[exprs[0]], nil
}

func (e stubEvaluator) EvalArgs(_ context.Context, args map[string]any, _ *ExecutionContext) (map[string]any, error) {
	return args, nil
}

// stubDispatcher records every dispatch and returns a canned result or
// error per ref, so tests can assert dispatch-once-per-attempt and
// failure-propagation behavior deterministically.
type stubDispatcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (d *stubDispatcher) Dispatch(_ context.Context, _ ExecutionID, _ StreamID, st ActionStatement, _ map[string]any, _ int) (TaskResult, error) {
	d.mu.Lock()
	d.calls[st.Ref]++
	fail := d.fail[st.Ref]
	d.mu.Unlock()
	if fail {
		return TaskResult{Error: &ErrorInfo{Type: "EXECUTION", Message: "boom"}}, nil
	}
	obj := objectstore.StoredObject{Type: objectstore.KindInline, Data: []byte(`"ok"`)}
	return TaskResult{Result: obj}, nil
}

func newTestStore() *objectstore.Store {
	return objectstore.New(objectstore.NewMemoryBackend(), "test-bucket")
}

func TestScheduler_LinearSuccess(t *testing.T) {
	// S1: a -> b -> c, all succeed, every ref dispatched exactly once.
	statements := []ActionStatement{
		{Ref: "a", Action: "core.noop"},
		{Ref: "b", Action: "core.noop", DependsOn: []string{"a"}},
		{Ref: "c", Action: "core.noop", DependsOn: []string{"b"}},
	}
	graph, err := NewGraph(statements)
	require.NoError(t, err)

	dispatcher := newStubDispatcher()
	sched := NewScheduler(graph, newTestStore(), stubEvaluator{}, dispatcher, SchedulerOptions{})

	execCtx := NewExecutionContext()
	require.NoError(t, sched.Run(context.Background(), ExecutionID("wf:run1"), execCtx))

	require.Equal(t, 1, dispatcher.calls["a"])
	require.Equal(t, 1, dispatcher.calls["b"])
	require.Equal(t, 1, dispatcher.calls["c"])
	require.Equal(t, StateCompleted, graph.State("a"))
	require.Equal(t, StateCompleted, graph.State("b"))
	require.Equal(t, StateCompleted, graph.State("c"))
}

func TestScheduler_ConditionalFailure(t *testing.T) {
	// S2: a fails, b depends on a.ERROR and runs, c depends on a (SUCCESS) and is skipped.
	statements := []ActionStatement{
		{Ref: "a", Action: "core.noop"},
		{Ref: "b", Action: "core.noop", DependsOn: []string{"a.error"}},
		{Ref: "c", Action: "core.noop", DependsOn: []string{"a"}},
	}
	graph, err := NewGraph(statements)
	require.NoError(t, err)

	dispatcher := newStubDispatcher()
	dispatcher.fail["a"] = true
	sched := NewScheduler(graph, newTestStore(), stubEvaluator{}, dispatcher, SchedulerOptions{})

	execCtx := NewExecutionContext()
	require.NoError(t, sched.Run(context.Background(), ExecutionID("wf:run2"), execCtx))

	require.Equal(t, StateFailed, graph.State("a"))
	require.Equal(t, StateCompleted, graph.State("b"))
	require.Equal(t, StateSkipped, graph.State("c"))
	require.Equal(t, 0, dispatcher.calls["c"])
}

func TestScheduler_ScatterGatherPartition(t *testing.T) {
	// S3: scatter over 3 items, every branch succeeds; the gather
	// (PARTITION) settles "fan" as a completed, non-failed result.
	statements := []ActionStatement{
		{Ref: "fan", Action: "core.noop", Scatter: []string{"x in items"}},
	}
	graph, err := NewGraph(statements)
	require.NoError(t, err)

	dispatcher := newStubDispatcher()
	evaluator := stubEvaluator{
		iterables: map[string][][]any{"x in items": {{1, 2, 3}}},
	}
	sched := NewScheduler(graph, newTestStore(), evaluator, dispatcher, SchedulerOptions{})

	execCtx := NewExecutionContext()
	require.NoError(t, sched.Run(context.Background(), ExecutionID("wf:run3"), execCtx))

	require.Equal(t, StateCompleted, graph.State("fan"))
	result, ok := sched.Result("fan", RootStream)
	require.True(t, ok)
	require.False(t, result.Failed())
}

func TestLoopCounter_StopsAtMax(t *testing.T) {
	c := NewLoopCounter()
	end := LoopEnd{Ref: "body_end", Guard: "true", MaxIterations: 3}
	stream := RootStream.Child("loop", "0")

	var last int
	cont := true
	for cont {
		last, cont = c.Advance(stream, end)
	}
	require.Equal(t, 3, last)
	require.Equal(t, 3, c.Count(stream))
}

func TestGather_RaiseAbortsOnFirstError(t *testing.T) {
	store := newTestStore()
	branches := []BranchResult{
		{Index: 0, Result: TaskResult{Result: objectstore.StoredObject{Type: objectstore.KindInline, Data: []byte("1")}}},
		{Index: 1, Result: TaskResult{Error: &ErrorInfo{Type: "EXECUTION", Message: "boom"}}},
	}
	_, errInfo, err := Gather(context.Background(), store, branches, GatherOptions{Strategy: GatherRaise, KeyPrefix: "g"})
	require.NoError(t, err)
	require.NotNil(t, errInfo)
	require.Equal(t, "boom", errInfo.Message)
}
