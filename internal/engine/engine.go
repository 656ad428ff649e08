// Package engine defines the durable-execution abstractions the
// orchestrator targets. It provides a pluggable interface so the
// scheduler's dispatch decisions can run against Temporal, an
// in-memory test double, or any other backend without the rest of the
// execution core changing.
package engine

import (
	"context"
	"time"

	"github.com/flowcore/flowcore/internal/telemetry"
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory, or custom) can be swapped without touching
	// the orchestrator. Implementations translate these generic types
	// into backend-specific primitives.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the
		// engine. Called once during service initialization before
		// any worker starts polling. Returns an error if the workflow
		// name is already registered or registration fails.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition with the
		// engine. Must be called during initialization before workers
		// start. Returns an error if the activity name conflicts or
		// registration fails.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow initiates a new workflow execution and returns
		// a handle for interacting with it. The workflow ID in req
		// must be unique for the engine instance. Returns an error if
		// the workflow name is not registered, the ID conflicts with a
		// running workflow, or scheduling fails.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue. The orchestrator registers two: one for a whole DAG
	// execution and one for a detached action; scatter branches and
	// template steps run inside those, not as workflows of their own.
	WorkflowDefinition struct {
		// Name is the logical identifier registered with the engine
		// (e.g. "ExecuteStream").
		Name string
		// TaskQueue is the default queue used when starting new
		// workflows. Workers subscribe to this queue to receive work.
		TaskQueue string
		// Handler is the workflow function invoked by the engine.
		Handler WorkflowFunc
	}

	// WorkflowFunc is a workflow entry point. It receives a
	// WorkflowContext and arbitrary input, returning a result or
	// error. The function must be deterministic: it must produce the
	// same execution sequence given the same inputs and activity
	// results, since durable engines replay it from history.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to workflow handlers
	// within the deterministic execution environment of a workflow. It
	// wraps engine-specific contexts (Temporal workflow.Context, the
	// in-memory context) and provides a uniform API for activity
	// execution, signal handling, and observability.
	//
	// Implementations must ensure deterministic replay: operations
	// that interact with the engine (ExecuteActivity, SignalChannel)
	// must produce deterministic results when replayed. Direct I/O,
	// random number generation, or system time access within a
	// workflow violates determinism.
	//
	// Thread-safety: WorkflowContext is bound to a single workflow
	// execution and must not be shared across goroutines.
	//
	// Lifecycle: created by the engine when a workflow starts and
	// remains valid until the workflow completes or fails. Do not
	// cache a WorkflowContext outside the workflow function scope.
	WorkflowContext interface {
		// Context returns the Go context for the workflow. In
		// deterministic engines this is a replay-aware context. Use
		// it for activity execution and cancellation propagation.
		Context() context.Context

		// WorkflowID returns the unique identifier for this execution.
		// The orchestrator sets this to the DAG execution ID.
		WorkflowID() string

		// RunID returns the engine-assigned run identifier, used for
		// observability and run-level correlation.
		RunID() string

		// ExecuteActivity schedules an activity and waits for its
		// result. result is populated with the activity's return
		// value. Returns an error if the activity fails after
		// retries or scheduling fails.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking
		// and returns a Future. This is how the orchestrator dispatches
		// scatter branches concurrently. Returns an error only if the
		// activity cannot be scheduled; execution errors surface via
		// Future.Get.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns a channel for the given signal name.
		// Workflow code polls or blocks on it to react to external
		// events (pause/resume/cancel) delivered by the engine.
		SignalChannel(name string) SignalChannel

		// Logger returns a logger scoped to this workflow execution.
		Logger() telemetry.Logger

		// Metrics returns a metrics recorder for workflow-scoped metrics.
		Metrics() telemetry.Metrics

		// Tracer returns a tracer for creating spans within the workflow.
		Tracer() telemetry.Tracer

		// Now returns the current workflow time in a deterministic
		// manner. Implementations must return a replay-safe time
		// source (e.g. Temporal's workflow.Now).
		Now() time.Time
	}

	// Future represents a pending activity result available after the
	// activity completes. Futures let workflows launch multiple
	// activities via ExecuteActivityAsync (e.g. every branch of a
	// scatter) and collect results later via Get, which blocks until
	// the activity finishes.
	//
	// Thread-safety: Futures are bound to a single workflow execution
	// and must not be shared across executions. Calling Get multiple
	// times is safe and returns the same result/error each time.
	//
	// Lifecycle: valid from creation until the workflow completes.
	// Get must be called before the workflow exits; abandoned futures
	// leak resources in some engines. IsReady enables polling without
	// blocking.
	Future interface {
		// Get blocks until the activity completes and populates
		// result with its return value. Returns an error if the
		// activity fails after retries or result deserialization
		// fails.
		Get(ctx context.Context, result any) error

		// IsReady reports whether the activity has completed (success
		// or failure) and Get will not block.
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with optional
	// defaults. Activities are stateless, short-lived tasks invoked
	// from workflows; the orchestrator registers one activity per
	// action dispatched through the sandboxed runner.
	ActivityDefinition struct {
		// Name is the logical identifier for the activity (e.g.
		// "RunAction").
		Name string
		// Handler executes the activity logic when invoked.
		Handler ActivityFunc
		// Options configures retry/timeout behavior for the activity.
		Options ActivityOptions
	}

	// ActivityFunc handles an activity invocation. It receives a
	// standard Go context and arbitrary input, returning a result or
	// error. Unlike workflows, activities can perform side effects
	// (subprocess execution, object store I/O, registry lookups).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeouts for an activity.
	ActivityOptions struct {
		// Queue overrides the default activity queue. If empty, the
		// activity inherits the workflow's task queue.
		Queue string
		// RetryPolicy controls retry behavior for this activity. If
		// zero-valued, the engine uses its default retry policy.
		RetryPolicy RetryPolicy
		// Timeout bounds each activity attempt. Zero leaves the choice
		// to the adapter: the Temporal adapter then applies one minute;
		// the in-memory adapter applies no timeout at all.
		Timeout time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow
	// execution. The orchestrator constructs one of these per detached
	// action it starts.
	WorkflowStartRequest struct {
		// ID is the workflow identifier, unique within the engine
		// scope. The orchestrator derives this from the execution ID
		// and stream ID.
		ID string
		// Workflow names the registered workflow definition to execute.
		Workflow string
		// TaskQueue selects the queue to schedule the workflow on.
		TaskQueue string
		// Input is the payload passed to the workflow handler.
		Input any
		// Memo stores small diagnostic payloads alongside the
		// execution. Engines like Temporal persist these for
		// visibility queries. Nil means no memo.
		Memo map[string]any
		// SearchAttributes captures indexed metadata used for
		// visibility queries. Nil means no attributes are set.
		SearchAttributes map[string]any
		// RetryPolicy controls automatic restarts of the workflow
		// start attempt if scheduling fails. Not to be confused with
		// activity retries.
		RetryPolicy RetryPolicy
	}

	// ActivityRequest contains the info needed to schedule an activity
	// from a workflow.
	ActivityRequest struct {
		// Name identifies the activity to execute (must match a
		// registered ActivityDefinition).
		Name string
		// Input is the payload passed to the activity handler.
		Input any
		// Queue optionally overrides the queue for this invocation.
		// If empty, inherits from the activity definition or
		// workflow queue.
		Queue string
		// RetryPolicy controls retry behavior for the scheduled
		// activity. If zero-valued, uses the policy from the
		// activity definition.
		RetryPolicy RetryPolicy
		// Timeout bounds the activity execution time. Zero falls back to
		// the activity definition's Timeout (see ActivityOptions).
		Timeout time.Duration
	}

	// WorkflowHandle lets callers interact with a running workflow.
	// Returned by Engine.StartWorkflow, it provides methods to wait
	// for completion, send signals, or cancel execution.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, populating result
		// with its return value. Returns an error if the workflow
		// fails, is cancelled, or result deserialization fails.
		Wait(ctx context.Context, result any) error

		// Signal sends an asynchronous message to the workflow. Used
		// to deliver pause/resume/cancel control signals. Returns an
		// error if the signal cannot be delivered (e.g. the workflow
		// already completed).
		Signal(ctx context.Context, name string, payload any) error

		// Cancel requests cancellation of the workflow. The
		// workflow's context is cancelled and in-flight activities
		// may be cancelled depending on the engine. Returns an error
		// if cancellation fails.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its
	// defaults.
	RetryPolicy struct {
		// MaxAttempts caps total retry attempts. Zero means unlimited.
		MaxAttempts int
		// InitialInterval is the delay before the first retry. Zero
		// means use the engine default.
		InitialInterval time.Duration
		// BackoffCoefficient multiplies the delay after each retry.
		// Values < 1 are treated as 1 (constant backoff). 2 gives
		// exponential backoff.
		BackoffCoefficient float64
	}

	// SignalChannel exposes workflow signal delivery in an
	// engine-agnostic way. Implementations wrap engine-specific
	// channels (Temporal signal channels, an in-process Go channel)
	// and provide blocking and non-blocking receive helpers.
	SignalChannel interface {
		// Receive blocks until a signal value is delivered and
		// decodes it into dest. Implementations should respect ctx
		// when possible; engines without context cancellation support
		// may ignore ctx and rely on workflow cancellation instead.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts to receive a signal without blocking.
		// Returns true when a value was written into dest, false if
		// none was available.
		ReceiveAsync(dest any) bool
	}
)
