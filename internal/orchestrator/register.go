package orchestrator

import (
	"context"
	"fmt"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/engine"
	"github.com/flowcore/flowcore/internal/objectstore"
)

// Register wires every workflow and activity definition the
// orchestrator needs into eng. Call once during service
// initialization, before any worker starts polling (spec §4.8).
func Register(ctx context.Context, eng engine.Engine, activities *ActivitySet, store *objectstore.Store, evaluator dsl.Evaluator, queue string) error {
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      ExecuteWorkflowName,
		TaskQueue: queue,
		Handler:   NewExecuteWorkflow(eng, store, evaluator, queue),
	}); err != nil {
		return fmt.Errorf("orchestrator: register %q: %w", ExecuteWorkflowName, err)
	}

	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      DetachedActionWorkflowName,
		TaskQueue: queue,
		Handler:   NewDetachedActionWorkflow(queue),
	}); err != nil {
		return fmt.Errorf("orchestrator: register %q: %w", DetachedActionWorkflowName, err)
	}

	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    RunActionActivity,
		Handler: activities.RunAction,
	}); err != nil {
		return fmt.Errorf("orchestrator: register %q: %w", RunActionActivity, err)
	}

	if err := eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    AwaitDispatchActivity,
		Handler: AwaitDispatchTime,
	}); err != nil {
		return fmt.Errorf("orchestrator: register %q: %w", AwaitDispatchActivity, err)
	}

	return nil
}
