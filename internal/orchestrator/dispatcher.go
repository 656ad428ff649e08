package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/engine"
	"github.com/flowcore/flowcore/internal/errs"
	"github.com/flowcore/flowcore/internal/objectstore"
)

// MaxForEachIterations bounds a single for_each dispatch, mirroring
// the loop-expansion cap the original implementation enforces before
// fanning out iteration invocations (spec §4.7).
const MaxForEachIterations = 1000

// ForEachLoopError aggregates the per-iteration failures of a for_each
// dispatch into the single error a failed for_each TaskResult carries
// (spec §4.7; corresponds to the original's LoopExecutionError).
type ForEachLoopError struct {
	Ref      string
	Failures []ForEachFailure
}

// ForEachFailure is one failed iteration of a for_each dispatch.
type ForEachFailure struct {
	Index int
	Error dsl.ErrorInfo
}

func (e *ForEachLoopError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("item %d: %s", f.Index, f.Error.Message)
	}
	return fmt.Sprintf("for_each %q: %d item(s) failed: %s", e.Ref, len(e.Failures), strings.Join(msgs, "; "))
}

const (
	// RunActionActivity is the activity name a RunAction handler is
	// registered under.
	RunActionActivity = "flowcore.run_action"
	// AwaitDispatchActivity is the activity name AwaitDispatchTime is
	// registered under.
	AwaitDispatchActivity = "flowcore.await_dispatch_time"
	// DetachedActionWorkflowName is the workflow name a detached
	// action's fire-and-forget execution is registered under.
	DetachedActionWorkflowName = "flowcore.detached_action"
)

// Dispatcher implements dsl.Dispatcher on top of an engine.Engine: it
// schedules a RunAction activity per statement, resolving
// start_delay/wait_until through a date-parser activity first and
// honoring wait_strategy=DETACH by firing an independent workflow
// instead of blocking the calling stream (spec §4.8).
type Dispatcher struct {
	eng       engine.Engine
	queue     string
	store     *objectstore.Store
	evaluator dsl.Evaluator
	lock      dsl.RegistryLock
	execCtx   *dsl.ExecutionContext
}

// NewDispatcher constructs a Dispatcher scoped to one workflow
// execution: lock pins every action key to a registry version, and
// execCtx supplies the ENV/SECRETS/VARS/TRIGGER root variables every
// invocation carries (spec §3.7) — these never change once a run
// starts, only ACTIONS does, so reading them once at construction is
// safe. evaluator resolves a failed attempt's retry_until expression
// between retries, and a for_each statement's per-iteration args and
// iterables; store persists a for_each statement's list-of-results
// (spec §4.7).
func NewDispatcher(eng engine.Engine, queue string, store *objectstore.Store, evaluator dsl.Evaluator, lock dsl.RegistryLock, execCtx *dsl.ExecutionContext) *Dispatcher {
	return &Dispatcher{eng: eng, queue: queue, store: store, evaluator: evaluator, lock: lock, execCtx: execCtx}
}

// Dispatch implements dsl.Dispatcher. It must be called with a context
// carrying an engine.WorkflowContext (i.e. from within a workflow
// handler); Scheduler.Run always supplies wfCtx.Context() for this
// reason.
func (d *Dispatcher) Dispatch(ctx context.Context, execID dsl.ExecutionID, stream dsl.StreamID, st dsl.ActionStatement, args map[string]any, attempt int) (dsl.TaskResult, error) {
	wfCtx := engine.WorkflowContextFromContext(ctx)
	if wfCtx == nil {
		return dsl.TaskResult{}, fmt.Errorf("orchestrator: dispatch %q outside a workflow context", st.Ref)
	}

	if st.StartDelay > 0 || st.WaitUntil != "" {
		if err := d.awaitDispatchTime(wfCtx, st); err != nil {
			return dsl.TaskResult{}, fmt.Errorf("orchestrator: await dispatch time for %q: %w", st.Ref, err)
		}
	}

	if len(st.ForEach) > 0 {
		return d.dispatchForEach(wfCtx, execID, stream, st, attempt)
	}

	if st.WaitStrategy == dsl.WaitDetach {
		inv := d.invocationFor(execID, stream, st, args, attempt)
		return d.dispatchDetached(wfCtx, inv)
	}

	return d.dispatchAttached(wfCtx, execID, stream, st, args, attempt)
}

// dispatchForEach expands a for_each statement into one dispatch per
// lock-step iteration, entirely inside this dispatcher rather than the
// scheduler: it evaluates st.ForEach into iterables, evaluates st.Args
// once per iteration with VAR bound to that iteration's item, runs
// each iteration through the same attempt loop a normal dispatch uses,
// and folds every iteration's result into a single stored list —
// ref keeps exactly one ACTIONS slot, never a partitioned stream
// (spec §4.7, distinct from Scatter).
func (d *Dispatcher) dispatchForEach(wfCtx engine.WorkflowContext, execID dsl.ExecutionID, stream dsl.StreamID, st dsl.ActionStatement, attempt int) (dsl.TaskResult, error) {
	ctx := wfCtx.Context()
	iterables, err := d.evaluator.EvalIterables(ctx, st.ForEach, d.execCtx)
	if err != nil {
		return errForEach(errs.KindExecution, fmt.Errorf("orchestrator: evaluate for_each for %q: %w", st.Ref, err)), nil
	}

	n := dsl.IterableCount(iterables)
	if n > MaxForEachIterations {
		return errForEach(errs.KindValidation, fmt.Errorf("orchestrator: for_each %q exceeds max iterations: %d > %d", st.Ref, n, MaxForEachIterations)), nil
	}

	items := make([]objectstore.StoredObject, n)
	var failures []ForEachFailure
	for i := 0; i < n; i++ {
		iterCtx := d.execCtx.Clone()
		iterCtx.Var = dsl.IterableItem(iterables, i)

		args, err := d.evaluator.EvalArgs(ctx, st.Args, iterCtx)
		if err != nil {
			failures = append(failures, ForEachFailure{Index: i, Error: dsl.ErrorInfo{
				Type: string(errs.KindExecution), Message: errs.Sanitize(err.Error()),
			}})
			continue
		}

		result, err := d.dispatchAttached(wfCtx, execID, stream, st, args, attempt)
		if err != nil {
			return dsl.TaskResult{}, err
		}
		if result.Failed() {
			failures = append(failures, ForEachFailure{Index: i, Error: *result.Error})
			continue
		}
		items[i] = result.Result
	}

	if len(failures) > 0 {
		loopErr := &ForEachLoopError{Ref: st.Ref, Failures: failures}
		return dsl.TaskResult{Error: &dsl.ErrorInfo{
			Type: string(errs.KindLoopExecution), Message: errs.Sanitize(loopErr.Error()),
		}}, nil
	}

	stored, err := d.store.StoreCollection(ctx, fmt.Sprintf("%s/%s/%s", execID, stream, st.Ref), items, objectstore.KindInline)
	if err != nil {
		return dsl.TaskResult{}, fmt.Errorf("orchestrator: store for_each result for %q: %w", st.Ref, err)
	}
	return dsl.TaskResult{Result: stored, ResultTypename: stored.Typename}, nil
}

func errForEach(kind errs.Kind, err error) dsl.TaskResult {
	return dsl.TaskResult{Error: &dsl.ErrorInfo{Type: string(kind), Message: errs.Sanitize(err.Error())}}
}

// dispatchAttached runs the attempt loop for a blocking statement: it
// calls RunAction, and on failure consults retry_until (if set) to
// decide whether another attempt is warranted, up to Retry.MaxAttempts.
// This loop lives here rather than behind the engine's own retry
// policy because retry_until must inspect the failed result, which a
// durable engine's built-in policy has no hook for.
func (d *Dispatcher) dispatchAttached(wfCtx engine.WorkflowContext, execID dsl.ExecutionID, stream dsl.StreamID, st dsl.ActionStatement, args map[string]any, attempt int) (dsl.TaskResult, error) {
	maxAttempts := st.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var result dsl.TaskResult
	for n := attempt; ; n++ {
		inv := d.invocationFor(execID, stream, st, args, n)

		var attemptResult dsl.TaskResult
		req := engine.ActivityRequest{
			Name:    RunActionActivity,
			Input:   inv,
			Queue:   d.queue,
			Timeout: st.Retry.Timeout,
		}
		if err := wfCtx.ExecuteActivity(wfCtx.Context(), req, &attemptResult); err != nil {
			return dsl.TaskResult{}, err
		}
		result = attemptResult

		if !result.Failed() || n >= maxAttempts {
			return result, nil
		}
		if st.Retry.RetryUntil != "" && d.retryUntilSatisfied(wfCtx, st, result) {
			return result, nil
		}
	}
}

// retryUntilSatisfied evaluates retry_until against the failed
// result, treating an evaluation error as "keep retrying" rather than
// aborting the attempt loop on an expression bug.
func (d *Dispatcher) retryUntilSatisfied(wfCtx engine.WorkflowContext, st dsl.ActionStatement, result dsl.TaskResult) bool {
	execCtx := &dsl.ExecutionContext{Actions: map[string]dsl.TaskResult{st.Ref: result}}
	ok, err := d.evaluator.EvalBool(wfCtx.Context(), st.Retry.RetryUntil, execCtx)
	return err == nil && ok
}

// dispatchDetached starts inv as an independent workflow and returns
// immediately without waiting on it, using a context.WithoutCancel
// derivative of the calling workflow's context so the start call
// itself — and the workflow it launches — survive the calling
// stream's cancellation (spec's wait_strategy=DETACH open question).
func (d *Dispatcher) dispatchDetached(wfCtx engine.WorkflowContext, inv ActionInvocation) (dsl.TaskResult, error) {
	detachedCtx := context.WithoutCancel(wfCtx.Context())
	id := fmt.Sprintf("%s/%s/%s/detached/%d", inv.ExecutionID, inv.Stream, inv.Ref, inv.Attempt)

	if _, err := d.eng.StartWorkflow(detachedCtx, engine.WorkflowStartRequest{
		ID:        id,
		Workflow:  DetachedActionWorkflowName,
		TaskQueue: d.queue,
		Input:     inv,
	}); err != nil {
		return dsl.TaskResult{}, fmt.Errorf("orchestrator: start detached action %q: %w", inv.Ref, err)
	}

	return dsl.TaskResult{Result: objectstore.StoredObject{Type: objectstore.KindInline, Data: []byte("null"), Typename: "NoneType"}}, nil
}

func (d *Dispatcher) awaitDispatchTime(wfCtx engine.WorkflowContext, st dsl.ActionStatement) error {
	var ack bool
	req := engine.ActivityRequest{
		Name:  AwaitDispatchActivity,
		Input: DispatchTimerInput{StartDelay: st.StartDelay, WaitUntil: st.WaitUntil},
		Queue: d.queue,
	}
	return wfCtx.ExecuteActivity(wfCtx.Context(), req, &ack)
}

func (d *Dispatcher) invocationFor(execID dsl.ExecutionID, stream dsl.StreamID, st dsl.ActionStatement, args map[string]any, attempt int) ActionInvocation {
	inv := ActionInvocation{
		ExecutionID: execID,
		Stream:      stream,
		Ref:         st.Ref,
		ActionKey:   st.Action,
		Args:        args,
		Lock:        d.lock,
		Attempt:     attempt,
		Timeout:     st.Retry.Timeout,
	}
	if d.execCtx != nil {
		inv.Env = d.execCtx.Env
		inv.Secrets = d.execCtx.Secrets
		inv.Vars = d.execCtx.Vars
		inv.Trigger = d.execCtx.Trigger
		inv.Var = d.execCtx.Var
	}
	return inv
}
