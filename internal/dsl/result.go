package dsl

import "github.com/flowcore/flowcore/internal/objectstore"

// ErrorInfo carries the structured failure reported by an activity
// (spec §7 "each activity maps its internal exception into a
// structured ActionErrorInfo").
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TaskResult is the outcome of one ActionStatement dispatch (spec
// §3.6).
type TaskResult struct {
	Result           objectstore.StoredObject `json:"result"`
	ResultTypename   string                   `json:"result_typename,omitempty"`
	Error            *ErrorInfo               `json:"error,omitempty"`
	ErrorTypename    string                   `json:"error_typename,omitempty"`
	InteractionID    string                   `json:"interaction_id,omitempty"`
	CollectionIndex  *int                     `json:"collection_index,omitempty"`
}

// Failed reports whether this result represents an action failure.
func (t TaskResult) Failed() bool {
	return t.Error != nil
}

// ExecutionContext is the data plane handed to expression evaluation
// and to activities (spec §3.7). ACTIONS and Trigger are always
// present; the rest are populated incrementally over the run.
type ExecutionContext struct {
	Actions map[string]TaskResult              `json:"ACTIONS"`
	Trigger *objectstore.StoredObject          `json:"TRIGGER"`
	Env     map[string]any                     `json:"ENV,omitempty"`
	Secrets map[string]any                     `json:"SECRETS,omitempty"`
	Vars    map[string]any                     `json:"VARS,omitempty"`
	Var     any                                `json:"var,omitempty"`
}

// NewExecutionContext constructs an empty context with initialized
// ACTIONS map and nil TRIGGER, matching the "always present" guarantee
// of spec §3.7 (TRIGGER is present as a field even before a value is set).
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{Actions: make(map[string]TaskResult)}
}

// Clone returns a shallow copy of the context with its own Actions map,
// so mutating the clone never affects the original (used when a
// scheduler partitions ACTIONS per stream, spec §4.7).
func (c *ExecutionContext) Clone() *ExecutionContext {
	actions := make(map[string]TaskResult, len(c.Actions))
	for k, v := range c.Actions {
		actions[k] = v
	}
	return &ExecutionContext{
		Actions: actions,
		Trigger: c.Trigger,
		Env:     c.Env,
		Secrets: c.Secrets,
		Vars:    c.Vars,
		Var:     c.Var,
	}
}
