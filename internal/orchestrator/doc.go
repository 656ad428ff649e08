// Package orchestrator maps DAG scheduler decisions onto a durable
// engine (spec §4.8): one workflow per execution, one activity per
// dispatched action. It is the only package that wires dsl.Dispatcher
// to internal/engine, so the scheduler core stays free of any
// durable-execution dependency.
//
// # Components
//
// ExecuteWorkflow is the top-level workflow: given a dsl.Workflow and
// an ExecutionID, it builds a Graph and a Scheduler bound to a
// Dispatcher, then runs the Scheduler to quiescence.
//
// Dispatcher implements dsl.Dispatcher by scheduling a RunAction
// activity per statement. It resolves start_delay/wait_until through
// an AwaitDispatchTime activity first, so the workflow itself never
// touches wall-clock time directly, and it owns the retry_until
// attempt loop since that requires inspecting a failed attempt's
// result between retries — something a durable engine's built-in
// retry policy can't do.
//
// ActivitySet implements RunAction: resolve the action against a
// registry.Resolver, then either shell out through a
// runner.ActionRunner (UDF actions) or recursively walk a template
// action's steps in-process, evaluating its "returns" expression
// against the nested step results.
//
// wait_strategy=DETACH statements skip the activity path entirely:
// Dispatcher starts a DetachedActionWorkflow via the engine's
// StartWorkflow, using a context.WithoutCancel-derived context so the
// launch itself survives the calling stream's cancellation, and
// settles the calling stream immediately without waiting for the
// detached workflow to finish.
package orchestrator
