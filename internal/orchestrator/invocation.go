package orchestrator

import (
	"time"

	"github.com/flowcore/flowcore/internal/dsl"
	"github.com/flowcore/flowcore/internal/objectstore"
)

// MaxTemplateDepth bounds template-to-template recursion inside
// ActivitySet.RunAction. dsl.TemplateDefinition.Validate already
// forbids a template step from targeting anything but another
// template or the embeddable platform action, but a registry is
// authored independently of the statements that reference it; this is
// the runtime backstop against a cyclical registry producing an
// infinite activity-local recursion.
const MaxTemplateDepth = 16

// ActionInvocation is the payload carried from the dispatching
// workflow into the RunAction activity, and threaded recursively into
// a template action's own steps (spec §4.8, §4.6).
type ActionInvocation struct {
	ExecutionID dsl.ExecutionID
	Stream      dsl.StreamID
	Ref         string
	ActionKey   string
	Args        map[string]any

	// Env, Secrets, Vars, Trigger, and Var mirror the matching
	// dsl.ExecutionContext fields so a template action's nested steps
	// can evaluate run_if/args expressions against the same root
	// variables the top-level statement saw (spec §3.7).
	Env     map[string]any
	Secrets map[string]any
	Vars    map[string]any
	Trigger *objectstore.StoredObject
	Var     any

	Lock    dsl.RegistryLock
	Attempt int
	Timeout time.Duration

	// TemplateDepth counts template-to-template recursion so RunAction
	// can refuse to recurse past MaxTemplateDepth.
	TemplateDepth int
}

// executionContextFor builds the dsl.ExecutionContext a template
// action's nested steps and its own "returns" expression evaluate
// against.
func (inv ActionInvocation) executionContextFor() *dsl.ExecutionContext {
	return &dsl.ExecutionContext{
		Actions: make(map[string]dsl.TaskResult),
		Trigger: inv.Trigger,
		Env:     inv.Env,
		Secrets: inv.Secrets,
		Vars:    inv.Vars,
		Var:     inv.Var,
	}
}
