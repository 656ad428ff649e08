package sync

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowcore/flowcore/internal/registry"
)

// ValidationErrorInfo is one structural problem found while validating
// a discovered action (spec §4.3 phase 3 "validate").
type ValidationErrorInfo struct {
	ActionKey string
	Message   string
}

// ValidateTemplates resolves every template action's step references
// against the full discovered set, validates each step's static args
// against the target action's expects schema where the arg is a
// literal (template expressions are left for §4.7's run-time
// evaluation), and reports every problem found rather than stopping at
// the first.
func ValidateTemplates(actions []registry.ManifestAction) []ValidationErrorInfo {
	byKey := make(map[string]registry.ManifestAction, len(actions))
	for _, a := range actions {
		byKey[a.Key()] = a
	}

	var errsFound []ValidationErrorInfo
	for _, a := range actions {
		if a.Type != registry.ActionTypeTemplate || a.Template == nil {
			continue
		}
		for _, step := range a.Template.Steps {
			target, ok := byKey[step.Action]
			if !ok {
				errsFound = append(errsFound, ValidationErrorInfo{
					ActionKey: a.Key(),
					Message:   fmt.Sprintf("step %q references unknown action %q", step.Ref, step.Action),
				})
				continue
			}
			if err := validateStepArgs(step, target); err != nil {
				errsFound = append(errsFound, ValidationErrorInfo{ActionKey: a.Key(), Message: err.Error()})
			}
		}
	}
	return errsFound
}

func validateStepArgs(step registry.TemplateStep, target registry.ManifestAction) error {
	if len(target.Expects) == 0 {
		return nil
	}
	schema, err := jsonschema.UnmarshalJSON(bytes.NewReader(target.Expects))
	if err != nil {
		return fmt.Errorf("step %q: decode expects schema for %q: %w", step.Ref, step.Action, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(step.Action+"#expects", schema); err != nil {
		return fmt.Errorf("step %q: register expects schema for %q: %w", step.Ref, step.Action, err)
	}
	compiled, err := compiler.Compile(step.Action + "#expects")
	if err != nil {
		return fmt.Errorf("step %q: compile expects schema for %q: %w", step.Ref, step.Action, err)
	}

	literalArgs := make(map[string]any, len(step.Args))
	for k, v := range step.Args {
		if s, ok := v.(string); ok && isTemplateArg(s) {
			continue // resolved at dispatch time, not here
		}
		literalArgs[k] = v
	}
	if err := compiled.Validate(literalArgs); err != nil {
		return fmt.Errorf("step %q: args for %q fail schema validation: %w", step.Ref, step.Action, err)
	}
	return nil
}

func isTemplateArg(s string) bool {
	return strings.Contains(s, "${{")
}
