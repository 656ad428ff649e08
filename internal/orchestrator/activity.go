package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/errs"
	"github.com/flowcore/flowcore/internal/objectstore"
	"github.com/flowcore/flowcore/internal/registry"
	"github.com/flowcore/flowcore/internal/runner"
)

// ActivitySet groups the dependencies RunAction needs to resolve and
// execute one action invocation: registry lookup, the sandboxed
// subprocess runner, and the object store results are persisted
// through (spec §4.2, §4.4, §4.1).
type ActivitySet struct {
	resolver  *registry.Resolver
	runner    *runner.ActionRunner
	store     *objectstore.Store
	evaluator dsl.Evaluator
}

// NewActivitySet constructs an ActivitySet. evaluator is used only for
// template actions: evaluating a nested step's run_if/args, and the
// template's own "returns" expression.
func NewActivitySet(resolver *registry.Resolver, runner *runner.ActionRunner, store *objectstore.Store, evaluator dsl.Evaluator) *ActivitySet {
	return &ActivitySet{resolver: resolver, runner: runner, store: store, evaluator: evaluator}
}

// RunAction is the engine.ActivityFunc registered under
// RunActionActivity. It resolves inv.ActionKey against inv.Lock and
// either shells out to the sandboxed runner (UDF) or expands a
// template action's steps in-process, always returning a dsl.TaskResult
// rather than an error for action-level failures — an error return is
// reserved for invocation-shape problems the engine's retry machinery
// should not see as an action failure to classify.
func (a *ActivitySet) RunAction(ctx context.Context, input any) (any, error) {
	inv, ok := input.(ActionInvocation)
	if !ok {
		return nil, fmt.Errorf("orchestrator: run_action: unexpected input type %T", input)
	}
	return a.runInvocation(ctx, inv), nil
}

func (a *ActivitySet) runInvocation(ctx context.Context, inv ActionInvocation) dsl.TaskResult {
	impl, err := a.resolver.Resolve(ctx, inv.ActionKey, inv.Lock)
	if err != nil {
		return errResult(errs.KindRegistry, err)
	}

	switch impl.Action.Type {
	case registry.ActionTypeTemplate:
		return a.runTemplate(ctx, impl, inv)
	default:
		return a.runUDF(ctx, impl, inv)
	}
}

func (a *ActivitySet) runUDF(ctx context.Context, impl registry.Implementation, inv ActionInvocation) dsl.TaskResult {
	if impl.Action.UDF == nil {
		return errResult(errs.KindRegistry, fmt.Errorf("orchestrator: action %q has no udf implementation", inv.ActionKey))
	}

	argsJSON, err := json.Marshal(inv.Args)
	if err != nil {
		return errResult(errs.KindValidation, fmt.Errorf("orchestrator: marshal args for %q: %w", inv.Ref, err))
	}

	raw, err := a.runner.Run(ctx, inv.Ref, impl.Action.UDF.TarballURI, impl.Action.UDF.Module, impl.Action.UDF.Function, argsJSON, inv.Env, inv.Secrets, inv.Timeout)
	if err != nil {
		return dsl.TaskResult{Error: &dsl.ErrorInfo{Type: string(errs.As(err)), Message: errs.Sanitize(err.Error())}}
	}

	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			return errResult(errs.KindProtocol, fmt.Errorf("orchestrator: decode result for %q: %w", inv.Ref, err))
		}
	}

	stored, err := a.store.Store(ctx, resultKey(inv), value)
	if err != nil {
		return errResult(errs.KindExecution, fmt.Errorf("orchestrator: store result for %q: %w", inv.Ref, err))
	}
	return dsl.TaskResult{Result: stored, ResultTypename: stored.Typename}
}

// runTemplate expands a template action's steps sequentially in
// dependency order within this activity, then evaluates the
// template's "returns" expression against the nested steps' results
// (spec §4.6 "Template action").
func (a *ActivitySet) runTemplate(ctx context.Context, impl registry.Implementation, inv ActionInvocation) dsl.TaskResult {
	if impl.Action.Template == nil {
		return errResult(errs.KindRegistry, fmt.Errorf("orchestrator: action %q has no template implementation", inv.ActionKey))
	}
	if inv.TemplateDepth >= MaxTemplateDepth {
		return errResult(errs.KindRegistry, fmt.Errorf("orchestrator: template %q exceeds max recursion depth %d", inv.ActionKey, MaxTemplateDepth))
	}

	nested := inv.executionContextFor()
	if err := a.runTemplateSteps(ctx, impl.Action.Template.Steps, inv, nested); err != nil {
		return errResult(errs.KindExecution, err)
	}

	resolved, err := a.evaluator.EvalArgs(ctx, map[string]any{"returns": impl.Action.Template.Returns}, nested)
	if err != nil {
		return errResult(errs.KindExecution, fmt.Errorf("orchestrator: evaluate returns for %q: %w", inv.ActionKey, err))
	}

	stored, err := a.store.Store(ctx, resultKey(inv), resolved["returns"])
	if err != nil {
		return errResult(errs.KindExecution, fmt.Errorf("orchestrator: store result for %q: %w", inv.Ref, err))
	}
	return dsl.TaskResult{Result: stored, ResultTypename: stored.Typename}
}

// runTemplateSteps walks a template's steps in dependency order,
// evaluating run_if and args against nested, dispatching each step via
// runInvocation, and folding the outcome back into nested.Actions —
// mirroring dsl.Scheduler's settle/advance, minus concurrency and
// scatter, which template steps do not support (spec §4.6 step shape).
func (a *ActivitySet) runTemplateSteps(ctx context.Context, steps []registry.TemplateStep, parent ActionInvocation, nested *dsl.ExecutionContext) error {
	statements := make([]dsl.ActionStatement, len(steps))
	for i, step := range steps {
		statements[i] = dsl.ActionStatement{
			Ref:       step.Ref,
			Action:    step.Action,
			Args:      step.Args,
			DependsOn: step.DependsOn,
			RunIf:     step.RunIf,
		}
	}
	graph, err := dsl.NewGraph(statements)
	if err != nil {
		return fmt.Errorf("orchestrator: build template step graph: %w", err)
	}

	queue := append([]string(nil), graph.Roots()...)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if graph.State(ref) != dsl.StatePending {
			continue
		}
		st, _ := graph.Statement(ref)

		if st.RunIf != "" {
			ok, err := a.evaluator.EvalBool(ctx, st.RunIf, nested)
			if err != nil {
				return fmt.Errorf("orchestrator: template step %q run_if: %w", ref, err)
			}
			if !ok {
				graph.SetState(ref, dsl.StateSkipped)
				graph.MarkSkipped(ref)
				a.propagateTemplateSkip(graph, ref, &queue)
				continue
			}
		}

		args, err := a.evaluator.EvalArgs(ctx, st.Args, nested)
		if err != nil {
			return fmt.Errorf("orchestrator: template step %q args: %w", ref, err)
		}

		stepInv := parent
		stepInv.Ref = ref
		stepInv.ActionKey = st.Action
		stepInv.Args = args
		stepInv.TemplateDepth = parent.TemplateDepth + 1

		result := a.runInvocation(ctx, stepInv)
		nested.Actions[ref] = result

		succeeded := !result.Failed()
		if succeeded {
			graph.SetState(ref, dsl.StateCompleted)
		} else {
			graph.SetState(ref, dsl.StateFailed)
		}
		graph.MarkOutcome(ref, succeeded)

		ready, skipped := graph.ReadyChildren(ref)
		queue = append(queue, ready...)
		for _, s := range skipped {
			graph.SetState(s, dsl.StateSkipped)
			graph.MarkSkipped(s)
			a.propagateTemplateSkip(graph, s, &queue)
		}
	}
	return nil
}

func (a *ActivitySet) propagateTemplateSkip(graph *dsl.Graph, ref string, queue *[]string) {
	ready, skipped := graph.ReadyChildren(ref)
	*queue = append(*queue, ready...)
	for _, s := range skipped {
		graph.SetState(s, dsl.StateSkipped)
		graph.MarkSkipped(s)
		a.propagateTemplateSkip(graph, s, queue)
	}
}

func resultKey(inv ActionInvocation) string {
	return fmt.Sprintf("%s/%s/%s", inv.ExecutionID, inv.Stream, inv.Ref)
}

func errResult(kind errs.Kind, err error) dsl.TaskResult {
	return dsl.TaskResult{Error: &dsl.ErrorInfo{Type: string(kind), Message: errs.Sanitize(err.Error())}}
}
