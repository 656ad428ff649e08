package dsl

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/flowcore/flowcore/internal/errs"
	"github.com/flowcore/flowcore/internal/objectstore"
	"github.com/flowcore/flowcore/internal/telemetry"
)

// Evaluator resolves run_if/for_each/templated-argument expressions
// against an ExecutionContext (implemented by internal/exprs; declared
// here as an interface so dsl never imports the CEL runtime directly).
type Evaluator interface {
	EvalBool(ctx context.Context, expr string, execCtx *ExecutionContext) (bool, error)
	EvalIterables(ctx context.Context, exprs []string, execCtx *ExecutionContext) ([][]any, error)
	EvalArgs(ctx context.Context, args map[string]any, execCtx *ExecutionContext) (map[string]any, error)
}

// Dispatcher hands one ActionStatement invocation off to the
// orchestrator adapter (an activity, in Temporal terms) and blocks
// until it returns a TaskResult. It is implemented by
// internal/orchestrator; declared here to keep dsl free of any engine
// dependency.
type Dispatcher interface {
	Dispatch(ctx context.Context, execID ExecutionID, stream StreamID, st ActionStatement, args map[string]any, attempt int) (TaskResult, error)
}

// SchedulerOptions configures a Scheduler run (spec §5).
type SchedulerOptions struct {
	MaxPendingTasks int64 // 0 means unbounded
	Logger          telemetry.Logger
}

// Scheduler drives one workflow execution to completion: it walks the
// DAG maintained by a Graph, evaluates run_if and for_each at each
// ready statement, dispatches leaf actions through a Dispatcher, and
// folds a scatter statement's branches back together into that
// statement's own result (spec §4.7).
type Scheduler struct {
	graph      *Graph
	store      *objectstore.Store
	evaluator  Evaluator
	dispatcher Dispatcher
	sem        *semaphore.Weighted
	logger     telemetry.Logger

	mu      sync.Mutex
	results map[string]map[StreamID]TaskResult // ref -> stream -> result
	loops   *LoopCounter
}

// NewScheduler constructs a Scheduler for one workflow's Graph.
func NewScheduler(graph *Graph, store *objectstore.Store, evaluator Evaluator, dispatcher Dispatcher, opts SchedulerOptions) *Scheduler {
	weight := opts.MaxPendingTasks
	if weight <= 0 {
		weight = 1 << 20 // effectively unbounded
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Scheduler{
		graph:      graph,
		store:      store,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(weight),
		logger:     logger,
		results:    make(map[string]map[StreamID]TaskResult),
		loops:      NewLoopCounter(),
	}
}

// Run executes the graph starting from its roots under the root
// stream, returning once every reachable statement has settled into a
// terminal state (COMPLETED, FAILED, or SKIPPED).
func (s *Scheduler) Run(ctx context.Context, execID ExecutionID, execCtx *ExecutionContext) error {
	return s.runStream(ctx, execID, RootStream, s.graph.Roots(), execCtx)
}

// runStream dispatches refs (already known reachable) within stream,
// then recursively dispatches whatever their completion makes ready,
// until no statement in this stream's frontier remains pending.
func (s *Scheduler) runStream(ctx context.Context, execID ExecutionID, stream StreamID, refs []string, execCtx *ExecutionContext) error {
	if len(refs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(refs))

	for _, ref := range refs {
		ref := ref
		if s.graph.State(ref) != StatePending {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("dsl: acquire dispatch slot for %q: %w", ref, err)
		}
		s.graph.SetState(ref, StateScheduled)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			if err := s.runOne(ctx, execID, stream, ref, execCtx); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// runOne evaluates run_if, dispatches (or expands as a scatter) the
// single statement ref, folds its outcome into the graph, and
// recursively schedules whatever became ready.
func (s *Scheduler) runOne(ctx context.Context, execID ExecutionID, stream StreamID, ref string, execCtx *ExecutionContext) error {
	st, ok := s.graph.Statement(ref)
	if !ok {
		return fmt.Errorf("dsl: unknown ref %q", ref)
	}

	if st.RunIf != "" {
		ok, err := s.evaluator.EvalBool(ctx, st.RunIf, execCtx)
		if err != nil {
			// Open Question decision: a run_if evaluation failure is a
			// task exception, not a silent skip.
			return s.settle(ctx, execID, stream, st, TaskResult{
				Error: &ErrorInfo{Type: string(errs.KindExecution), Message: errs.Sanitize(err.Error())},
			}, execCtx)
		}
		if !ok {
			s.graph.SetState(ref, StateSkipped)
			s.graph.MarkSkipped(ref)
			return s.advance(ctx, execID, stream, ref, execCtx)
		}
	}

	if len(st.Scatter) > 0 {
		return s.runScatter(ctx, execID, stream, st, execCtx)
	}

	result := s.dispatchOne(ctx, execID, stream, st, execCtx, 1)
	return s.settle(ctx, execID, stream, st, result, execCtx)
}

// dispatchOne calls the Dispatcher once. A for_each statement's args
// are not evaluated here: the loop it describes is expanded inside the
// action dispatcher itself, against one set of per-iteration args per
// pass, so the scheduler passes the raw statement through untouched
// (spec §4.7 "for_each is expanded at dispatch time, not by the
// scheduler").
func (s *Scheduler) dispatchOne(ctx context.Context, execID ExecutionID, stream StreamID, st ActionStatement, execCtx *ExecutionContext, attempt int) TaskResult {
	var args map[string]any
	if len(st.ForEach) == 0 {
		evaluated, err := s.evaluator.EvalArgs(ctx, st.Args, execCtx)
		if err != nil {
			return TaskResult{Error: &ErrorInfo{Type: string(errs.KindExecution), Message: errs.Sanitize(err.Error())}}
		}
		args = evaluated
	}
	result, err := s.dispatcher.Dispatch(ctx, execID, stream, st, args, attempt)
	if err != nil {
		kind := errs.As(err)
		return TaskResult{Error: &ErrorInfo{Type: string(kind), Message: errs.Sanitize(err.Error())}}
	}
	return result
}

// runScatter expands a scatter statement into one child stream per
// lock-step tuple, dispatches every branch concurrently, then gathers
// the branch results back into a single TaskResult for ref under the
// parent stream (spec §4.4). Distinct from for_each, which never
// partitions the stream (spec §4.7).
func (s *Scheduler) runScatter(ctx context.Context, execID ExecutionID, stream StreamID, st ActionStatement, execCtx *ExecutionContext) error {
	iterables, err := s.evaluator.EvalIterables(ctx, st.Scatter, execCtx)
	if err != nil {
		return s.settle(ctx, execID, stream, st, TaskResult{
			Error: &ErrorInfo{Type: string(errs.KindExecution), Message: errs.Sanitize(err.Error())},
		}, execCtx)
	}

	scatter := NewScatter(stream, st.Ref, IterableCount(iterables))

	branches := make([]BranchResult, len(scatter.Streams))
	var wg sync.WaitGroup
	for i, childStream := range scatter.Streams {
		i, childStream := i, childStream
		wg.Add(1)
		go func() {
			defer wg.Done()
			if childStream.IsSkipped() {
				branches[i] = BranchResult{Index: i, Result: TaskResult{}}
				return
			}
			branchCtx := execCtx.Clone()
			branchCtx.Var = IterableItem(iterables, i)
			result := s.dispatchOne(ctx, execID, childStream, st, branchCtx, 1)
			branches[i] = BranchResult{Index: i, Result: result}
		}()
	}
	wg.Wait()

	gathered, errInfo, err := Gather(ctx, s.store, branches, GatherOptions{
		Strategy:  GatherPartition,
		KeyPrefix: fmt.Sprintf("%s/%s/gather", execID, st.Ref),
	})
	if err != nil {
		return fmt.Errorf("dsl: gather %q: %w", st.Ref, err)
	}
	if errInfo != nil {
		return s.settle(ctx, execID, stream, st, TaskResult{Error: errInfo}, execCtx)
	}
	return s.settle(ctx, execID, stream, st, TaskResult{Result: gathered}, execCtx)
}

// settle records result as ref's outcome, transitions its state, marks
// outgoing edges, merges the result into the shared ACTIONS context
// view, and recursively dispatches whatever became reachable. A failure
// of a statement with no ERROR edge ends the run with an error instead.
func (s *Scheduler) settle(ctx context.Context, execID ExecutionID, stream StreamID, st ActionStatement, result TaskResult, execCtx *ExecutionContext) error {
	s.mu.Lock()
	if s.results[st.Ref] == nil {
		s.results[st.Ref] = make(map[StreamID]TaskResult)
	}
	s.results[st.Ref][stream] = result
	s.mu.Unlock()

	succeeded := !result.Failed()
	if succeeded {
		s.graph.SetState(st.Ref, StateCompleted)
	} else {
		s.graph.SetState(st.Ref, StateFailed)
	}
	execCtx.Actions[st.Ref] = result
	if hasErrorEdge := s.graph.MarkOutcome(st.Ref, succeeded); !succeeded && !hasErrorEdge {
		return fmt.Errorf("dsl: statement %q failed with no error edge: %s", st.Ref, result.Error.Message)
	}

	return s.advance(ctx, execID, stream, st.Ref, execCtx)
}

// advance schedules whatever statements became reachable as a result
// of ref settling, and eagerly marks unreachable children SKIPPED so
// their own children can in turn be evaluated (spec §8 "all parents of
// a join skipped" propagates transitively).
func (s *Scheduler) advance(ctx context.Context, execID ExecutionID, stream StreamID, ref string, execCtx *ExecutionContext) error {
	ready, skipped := s.graph.ReadyChildren(ref)
	for _, childRef := range skipped {
		s.graph.SetState(childRef, StateSkipped)
		s.graph.MarkSkipped(childRef)
		if err := s.advance(ctx, execID, stream, childRef, execCtx); err != nil {
			return err
		}
	}
	return s.runStream(ctx, execID, stream, ready, execCtx)
}

// Result returns the settled TaskResult for ref under stream, if any.
func (s *Scheduler) Result(ref string, stream StreamID) (TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStream, ok := s.results[ref]
	if !ok {
		return TaskResult{}, false
	}
	res, ok := byStream[stream]
	return res, ok
}
