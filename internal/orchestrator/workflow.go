package orchestrator

import (
	"fmt"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/engine"
	"github.com/flowcore/flowcore/internal/objectstore"
)

// ExecuteWorkflowName is the workflow name the top-level stream
// execution workflow is registered under.
const ExecuteWorkflowName = "flowcore.execute_workflow"

// ExecuteWorkflowInput is the payload an orchestrator API hands to
// Engine.StartWorkflow for one DAG execution (spec §4.8).
type ExecuteWorkflowInput struct {
	Workflow        dsl.Workflow
	ExecutionID     dsl.ExecutionID
	Context         *dsl.ExecutionContext
	MaxPendingTasks int64
}

// ExecuteWorkflowOutput is the settled execution context once every
// reachable statement has reached a terminal state.
type ExecuteWorkflowOutput struct {
	Context *dsl.ExecutionContext
}

// NewExecuteWorkflow builds the WorkflowFunc registered under
// ExecuteWorkflowName: it constructs the Graph for input.Workflow, a
// Dispatcher scoped to this execution's lock and root variables, and a
// Scheduler wired to both, then runs the Scheduler to quiescence
// (spec §4.7 "single-threaded cooperative" scheduling, §4.8 mapping
// onto the durable runtime).
func NewExecuteWorkflow(eng engine.Engine, store *objectstore.Store, evaluator dsl.Evaluator, queue string) engine.WorkflowFunc {
	return func(wfCtx engine.WorkflowContext, rawInput any) (any, error) {
		input, ok := rawInput.(ExecuteWorkflowInput)
		if !ok {
			return nil, fmt.Errorf("orchestrator: execute_workflow: unexpected input type %T", rawInput)
		}
		if err := input.Workflow.Validate(); err != nil {
			return nil, fmt.Errorf("orchestrator: invalid workflow %q: %w", input.Workflow.ID, err)
		}

		graph, err := dsl.NewGraph(input.Workflow.Statements)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build graph for %q: %w", input.Workflow.ID, err)
		}

		execCtx := input.Context
		if execCtx == nil {
			execCtx = dsl.NewExecutionContext()
		}

		dispatcher := NewDispatcher(eng, queue, store, evaluator, input.Workflow.Lock, execCtx)
		scheduler := dsl.NewScheduler(graph, store, evaluator, dispatcher, dsl.SchedulerOptions{
			MaxPendingTasks: input.MaxPendingTasks,
			Logger:          wfCtx.Logger(),
		})

		if err := scheduler.Run(wfCtx.Context(), input.ExecutionID, execCtx); err != nil {
			return nil, fmt.Errorf("orchestrator: run %q: %w", input.ExecutionID, err)
		}

		return ExecuteWorkflowOutput{Context: execCtx}, nil
	}
}

// NewDetachedActionWorkflow builds the WorkflowFunc registered under
// DetachedActionWorkflowName: it runs exactly one action invocation to
// completion via the RunAction activity and returns the settled
// TaskResult. Nothing waits on this workflow; it exists so a
// wait_strategy=DETACH statement's work is still durable and visible
// in the engine's own run history, even though the stream that
// launched it moved on immediately (spec's wait_strategy=DETACH open
// question, resolved in DESIGN.md).
func NewDetachedActionWorkflow(queue string) engine.WorkflowFunc {
	return func(wfCtx engine.WorkflowContext, rawInput any) (any, error) {
		inv, ok := rawInput.(ActionInvocation)
		if !ok {
			return nil, fmt.Errorf("orchestrator: detached_action: unexpected input type %T", rawInput)
		}

		var result dsl.TaskResult
		req := engine.ActivityRequest{Name: RunActionActivity, Input: inv, Queue: queue}
		if err := wfCtx.ExecuteActivity(wfCtx.Context(), req, &result); err != nil {
			return nil, err
		}
		return result, nil
	}
}
