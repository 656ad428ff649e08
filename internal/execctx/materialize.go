// Package execctx converts a dsl.ExecutionContext's StoredObject
// references into the plain-value view that expression evaluation and
// dispatched actions actually operate on (spec §4.6 "Materialize").
package execctx

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/objectstore"
)

// MaterializedResult is one resolved ACTIONS entry: the raw value
// behind a TaskResult.Result, alongside its error (if the action
// failed, no result resolution is attempted).
type MaterializedResult struct {
	Value any
	Error *dsl.ErrorInfo
}

// MaterializedContext is an ExecutionContext with every StoredObject
// replaced by its raw value (spec §3.7 "Materialize").
type MaterializedContext struct {
	Actions map[string]MaterializedResult
	Trigger any
	Env     map[string]any
	Secrets map[string]any
	Vars    map[string]any
	Var     any
}

// Materialize resolves every StoredObject in execCtx concurrently via
// errgroup, aborting the whole materialization on the first resolution
// failure — a missing or corrupt stored object is not retryable, so
// there is no point completing the rest of the fan-out (spec §3.8
// ownership/lifecycle note, §4.6).
func Materialize(ctx context.Context, store *objectstore.Store, execCtx *dsl.ExecutionContext) (*MaterializedContext, error) {
	out := &MaterializedContext{
		Actions: make(map[string]MaterializedResult, len(execCtx.Actions)),
		Env:     execCtx.Env,
		Secrets: execCtx.Secrets,
		Vars:    execCtx.Vars,
		Var:     execCtx.Var,
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for ref, result := range execCtx.Actions {
		ref, result := ref, result
		if result.Failed() {
			mu.Lock()
			out.Actions[ref] = MaterializedResult{Error: result.Error}
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			value, err := store.Retrieve(gctx, result.Result)
			if err != nil {
				return fmt.Errorf("execctx: materialize ACTIONS[%q]: %w", ref, err)
			}
			mu.Lock()
			out.Actions[ref] = MaterializedResult{Value: value}
			mu.Unlock()
			return nil
		})
	}

	if execCtx.Trigger != nil {
		g.Go(func() error {
			value, err := store.Retrieve(gctx, *execCtx.Trigger)
			if err != nil {
				return fmt.Errorf("execctx: materialize TRIGGER: %w", err)
			}
			out.Trigger = value
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
