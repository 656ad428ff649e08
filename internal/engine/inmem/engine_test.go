package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/flowcore/flowcore/internal/engine"
)

func TestEngine_ActivityExecution(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			n := input.(int)
			return n * 2, nil
		},
	})
	if err != nil {
		t.Fatalf("register activity: %v", err)
	}

	err = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "double_workflow",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			var out int
			if err := wfCtx.ExecuteActivity(wfCtx.Context(), engine.ActivityRequest{
				Name:  "double",
				Input: input,
			}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	})
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-1",
		Workflow: "double_workflow",
		Input:    21,
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	var result int
	if err := h.Wait(ctx, &result); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
}

func TestEngine_AsyncActivityFanOut(t *testing.T) {
	eng := New()
	ctx := context.Background()

	err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: "square",
		Handler: func(_ context.Context, input any) (any, error) {
			n := input.(int)
			return n * n, nil
		},
	})
	if err != nil {
		t.Fatalf("register activity: %v", err)
	}

	err = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "fan_out",
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			inputs := input.([]int)
			futures := make([]engine.Future, len(inputs))
			for i, n := range inputs {
				f, err2 := wfCtx.ExecuteActivityAsync(wfCtx.Context(), engine.ActivityRequest{
					Name:  "square",
					Input: n,
				})
				if err2 != nil {
					return nil, err2
				}
				futures[i] = f
			}
			results := make([]int, len(futures))
			for i, f := range futures {
				if err2 := f.Get(wfCtx.Context(), &results[i]); err2 != nil {
					return nil, err2
				}
			}
			return results, nil
		},
	})
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-2",
		Workflow: "fan_out",
		Input:    []int{2, 3, 4},
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	var results []int
	if err := h.Wait(ctx, &results); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	if len(results) != 3 || results[0] != 4 || results[1] != 9 || results[2] != 16 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestEngine_SignalDelivery(t *testing.T) {
	eng := New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "waits_for_signal",
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			var payload string
			if err2 := wfCtx.SignalChannel("resume").Receive(wfCtx.Context(), &payload); err2 != nil {
				return nil, err2
			}
			return payload, nil
		},
	})
	if err != nil {
		t.Fatalf("register workflow: %v", err)
	}

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-3",
		Workflow: "waits_for_signal",
	})
	if err != nil {
		t.Fatalf("start workflow: %v", err)
	}

	if err := h.Signal(ctx, "resume", "go"); err != nil {
		t.Fatalf("signal workflow: %v", err)
	}

	var result string
	if err := h.Wait(ctx, &result); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	if result != "go" {
		t.Fatalf("expected %q, got %q", "go", result)
	}
}
