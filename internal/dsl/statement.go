package dsl

import (
	"fmt"
	"strings"
	"time"
)

// JoinStrategy decides how many parent edges must be VISITED before a
// child statement becomes reachable (spec §4.7).
type JoinStrategy string

const (
	JoinAll JoinStrategy = "ALL"
	JoinAny JoinStrategy = "ANY"
)

// EdgeType labels a dependency edge by the parent outcome that
// traverses it.
type EdgeType string

const (
	EdgeSuccess EdgeType = "SUCCESS"
	EdgeError   EdgeType = "ERROR"
)

// WaitStrategy controls whether the orchestrator blocks the stream on
// a statement's dispatch or lets it run out of band (spec
// "wait_strategy").
type WaitStrategy string

const (
	// WaitAttached is the default: the scheduler blocks until the
	// statement's dispatch settles before advancing the stream.
	WaitAttached WaitStrategy = ""
	// WaitDetach fires the statement as an independent unit of work
	// and immediately settles the stream with a success result,
	// without waiting for the detached work to finish. Detached work
	// survives the cancellation of the stream that launched it.
	WaitDetach WaitStrategy = "DETACH"
)

// RetryPolicy controls per-statement retry behavior, delegated to the
// durable orchestrator (spec §3.2, §4.7 "Retry & attempts").
type RetryPolicy struct {
	MaxAttempts      int           `json:"max_attempts,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	RetryUntil       string        `json:"retry_until,omitempty"`
}

// ActionStatement is the unit of scheduling (spec §3.2).
type ActionStatement struct {
	// Ref is unique within a workflow.
	Ref string `json:"ref"`
	// Action is the namespaced action key, e.g. "core.http_request".
	Action string `json:"action"`
	// Args maps argument name to a literal value or a template
	// expression string (evaluated by internal/exprs before dispatch).
	Args map[string]any `json:"args,omitempty"`
	// DependsOn lists "<ref>" or "<ref>.<edge-type>" dependency
	// references.
	DependsOn []string `json:"depends_on,omitempty"`
	// RunIf is an optional boolean expression gating dispatch.
	RunIf string `json:"run_if,omitempty"`
	// ForEach is an optional set of expressions producing one or more
	// iterables; when set, the action dispatcher (not the scheduler)
	// expands the statement into one invocation per lock-step tuple and
	// folds the per-iteration results back into a single list on ref's
	// one ACTIONS slot (spec §4.7 "for_each"). Distinct from Scatter,
	// which partitions the stream itself.
	ForEach []string `json:"for_each,omitempty"`
	// Scatter is an optional set of expressions producing one or more
	// iterables; when set, the scheduler partitions the stream into one
	// child stream per lock-step tuple, each with its own ACTIONS view,
	// and gathers the branch results (PARTITION) back into this same
	// statement's result once every branch settles (spec §4.4, §4.7
	// "scatter/gather" — a distinct control-flow primitive from
	// ForEach).
	Scatter []string `json:"scatter,omitempty"`
	// Retry controls the orchestrator's attempt behavior.
	Retry RetryPolicy `json:"retry_policy,omitempty"`
	// StartDelay delays dispatch by a fixed duration.
	StartDelay time.Duration `json:"start_delay,omitempty"`
	// WaitUntil delays dispatch until an absolute, possibly
	// expression-derived timestamp.
	WaitUntil string `json:"wait_until,omitempty"`
	// Join decides reachability across multiple parents.
	Join JoinStrategy `json:"join_strategy,omitempty"`
	// WaitStrategy selects whether dispatch blocks the stream (the
	// zero value, WaitAttached) or detaches (WaitDetach).
	WaitStrategy WaitStrategy `json:"wait_strategy,omitempty"`
	// Environment overrides the run environment. Must be a literal
	// string; templates are never permitted here (spec §3.2 invariant).
	Environment string `json:"environment,omitempty"`
}

// ParsedDependency is a DependsOn entry split into its ref and
// (possibly implicit) edge type.
type ParsedDependency struct {
	Ref  string
	Edge EdgeType
}

// ParseDependency splits a "<ref>" or "<ref>.<edge-type>" dependency
// reference. The default edge type is SUCCESS.
func ParseDependency(dep string) (ParsedDependency, error) {
	ref := dep
	edge := EdgeSuccess
	for i := len(dep) - 1; i >= 0; i-- {
		if dep[i] == '.' {
			suffix := EdgeType(strings.ToUpper(dep[i+1:]))
			if suffix == EdgeSuccess || suffix == EdgeError {
				ref = dep[:i]
				edge = suffix
			}
			break
		}
	}
	if ref == "" {
		return ParsedDependency{}, fmt.Errorf("dsl: empty ref in dependency %q", dep)
	}
	return ParsedDependency{Ref: ref, Edge: edge}, nil
}

// Workflow is an ordered collection of ActionStatements forming a DAG,
// plus the lock binding its actions to registry versions.
type Workflow struct {
	ID         WorkflowID        `json:"id"`
	Statements []ActionStatement `json:"statements"`
	Lock       RegistryLock      `json:"registry_lock"`
	Timeout    time.Duration     `json:"timeout,omitempty"`
}

// Validate enforces the ActionStatement invariants from spec §3.2:
// refs are unique, depends_on refs exist, environment (if present)
// never contains a template marker, and the registry lock is valid.
// ForEach expressions are not checked here.
func (w *Workflow) Validate() error {
	seen := make(map[string]struct{}, len(w.Statements))
	for _, st := range w.Statements {
		if st.Ref == "" {
			return fmt.Errorf("dsl: statement has empty ref")
		}
		if _, dup := seen[st.Ref]; dup {
			return fmt.Errorf("dsl: duplicate ref %q", st.Ref)
		}
		seen[st.Ref] = struct{}{}
	}
	for _, st := range w.Statements {
		for _, dep := range st.DependsOn {
			parsed, err := ParseDependency(dep)
			if err != nil {
				return fmt.Errorf("dsl: statement %q: %w", st.Ref, err)
			}
			if _, ok := seen[parsed.Ref]; !ok {
				return fmt.Errorf("dsl: statement %q depends on unknown ref %q", st.Ref, parsed.Ref)
			}
		}
		if isTemplateExpr(st.Environment) {
			return fmt.Errorf("dsl: statement %q: environment must be a literal string, not a template", st.Ref)
		}
	}
	return w.Lock.Validate()
}

// isTemplateExpr reports whether s contains a "${{ ... }}" template
// marker, which control fields like Environment may never carry.
func isTemplateExpr(s string) bool {
	return strings.Contains(s, "${{")
}
