// Package exprs implements expression evaluation for run_if, for_each,
// and templated action arguments (spec §3.2, §4.4), backed by CEL.
// Expressions are embedded in strings as "${{ <cel-expr> }}" markers,
// following the wire convention established in internal/dsl's
// isTemplateExpr check.
package exprs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowcore/flowcore/internal/dsl"
)

const (
	markerStart = "${{"
	markerEnd   = "}}"
)

// rootVars are the ExecutionContext fields exposed to every
// expression (spec §3.7).
var rootVars = []string{"ACTIONS", "TRIGGER", "ENV", "SECRETS", "VARS", "var"}

// Evaluator compiles and caches CEL programs for run_if/for_each/arg
// expressions, implementing dsl.Evaluator.
type Evaluator struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

// New constructs an Evaluator with a compiled-program cache of
// capacity programCacheSize (0 uses a sensible default of 512).
func New(programCacheSize int) (*Evaluator, error) {
	if programCacheSize <= 0 {
		programCacheSize = 512
	}
	opts := make([]cel.EnvOption, 0, len(rootVars))
	for _, v := range rootVars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("exprs: build CEL environment: %w", err)
	}
	cache, err := lru.New[string, cel.Program](programCacheSize)
	if err != nil {
		return nil, fmt.Errorf("exprs: build program cache: %w", err)
	}
	return &Evaluator{env: env, cache: cache}, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	if prog, ok := e.cache.Get(expr); ok {
		return prog, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("exprs: compile %q: %w", expr, issues.Err())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("exprs: build program for %q: %w", expr, err)
	}
	e.cache.Add(expr, prog)
	return prog, nil
}

func vars(execCtx *dsl.ExecutionContext) map[string]any {
	actions := make(map[string]any, len(execCtx.Actions))
	for ref, res := range execCtx.Actions {
		actions[ref] = res
	}
	return map[string]any{
		"ACTIONS": actions,
		"TRIGGER": execCtx.Trigger,
		"ENV":     execCtx.Env,
		"SECRETS": execCtx.Secrets,
		"VARS":    execCtx.Vars,
		"var":     execCtx.Var,
	}
}

// eval compiles and evaluates a bare CEL expression (no markers).
func (e *Evaluator) eval(_ context.Context, expr string, execCtx *dsl.ExecutionContext) (ref.Val, error) {
	prog, err := e.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prog.Eval(vars(execCtx))
	if err != nil {
		return nil, fmt.Errorf("exprs: evaluate %q: %w", expr, err)
	}
	return out, nil
}

// EvalBool evaluates a boolean expression, stripping "${{ }}" markers
// if present (run_if may be written either as a bare expression or a
// marked template, spec is silent, so both are accepted).
func (e *Evaluator) EvalBool(ctx context.Context, expr string, execCtx *dsl.ExecutionContext) (bool, error) {
	val, err := e.eval(ctx, unwrap(expr), execCtx)
	if err != nil {
		return false, err
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("exprs: run_if %q did not evaluate to a bool, got %T", expr, val.Value())
	}
	return b, nil
}

// EvalIterables evaluates each for_each expression to a slice, each
// slice expected to be the same length (lock-step expansion, spec
// §4.4); mismatched lengths are rejected here with an error.
func (e *Evaluator) EvalIterables(ctx context.Context, exprs []string, execCtx *dsl.ExecutionContext) ([][]any, error) {
	out := make([][]any, len(exprs))
	for i, expr := range exprs {
		val, err := e.eval(ctx, unwrap(expr), execCtx)
		if err != nil {
			return nil, err
		}
		items, ok := val.Value().([]any)
		if !ok {
			return nil, fmt.Errorf("exprs: for_each %q did not evaluate to a list, got %T", expr, val.Value())
		}
		out[i] = items
	}
	if len(out) > 1 {
		n := len(out[0])
		for i, items := range out[1:] {
			if len(items) != n {
				return nil, fmt.Errorf("exprs: for_each expressions produced mismatched lengths (%d vs %d at index %d)", n, len(items), i+1)
			}
		}
	}
	return out, nil
}

// EvalArgs resolves every string value in args that contains a
// "${{ ... }}" marker, leaving literal values untouched.
func (e *Evaluator) EvalArgs(ctx context.Context, args map[string]any, execCtx *dsl.ExecutionContext) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, err := e.resolveValue(ctx, v, execCtx)
		if err != nil {
			return nil, fmt.Errorf("exprs: arg %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (e *Evaluator) resolveValue(ctx context.Context, v any, execCtx *dsl.ExecutionContext) (any, error) {
	switch typed := v.(type) {
	case string:
		if !strings.Contains(typed, markerStart) {
			return typed, nil
		}
		trimmed := strings.TrimSpace(typed)
		if strings.HasPrefix(trimmed, markerStart) && strings.HasSuffix(trimmed, markerEnd) {
			val, err := e.eval(ctx, unwrap(typed), execCtx)
			if err != nil {
				return nil, err
			}
			return val.Value(), nil
		}
		return e.interpolate(ctx, typed, execCtx)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			resolved, err := e.resolveValue(ctx, item, execCtx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			resolved, err := e.resolveValue(ctx, item, execCtx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// interpolate substitutes every "${{ expr }}" occurrence inside a
// larger string with its stringified evaluation result.
func (e *Evaluator) interpolate(ctx context.Context, s string, execCtx *dsl.ExecutionContext) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, markerStart)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], markerEnd)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start
		b.WriteString(rest[:start])
		expr := strings.TrimSpace(rest[start+len(markerStart) : end])
		val, err := e.eval(ctx, expr, execCtx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%v", val.Value())
		rest = rest[end+len(markerEnd):]
	}
	return b.String(), nil
}

// unwrap strips a single "${{ ... }}" marker pair, if present, leaving
// the inner expression; a bare expression passes through unchanged.
func unwrap(expr string) string {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, markerStart) && strings.HasSuffix(trimmed, markerEnd) {
		return strings.TrimSpace(trimmed[len(markerStart) : len(trimmed)-len(markerEnd)])
	}
	return trimmed
}
