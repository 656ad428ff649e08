// Package registry implements the Registry Resolver (spec §4.2): given
// an action key and a RegistryLock, resolve the concrete implementation
// descriptor — UDF or template — that the runner and scheduler need to
// execute it.
package registry

import "encoding/json"

// ActionType discriminates a ManifestAction's implementation shape.
type ActionType string

const (
	ActionTypeUDF      ActionType = "udf"
	ActionTypeTemplate ActionType = "template"
)

// UDFImplementation locates a Python callable inside a tarball built by
// the registry sync pipeline (spec §3.4).
type UDFImplementation struct {
	Module     string `json:"module"`
	Function   string `json:"function"`
	TarballURI string `json:"tarball_uri"`
}

// TemplateStep is one ActionStatement-shaped step inside a template
// action's body (spec §4.6).
type TemplateStep struct {
	Ref       string         `json:"ref"`
	Action    string         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	RunIf     string         `json:"run_if,omitempty"`
}

// TemplateImplementation is a named sequence of steps plus the
// expression used to compute the template's own return value (spec
// §4.6, §350 "Template action").
type TemplateImplementation struct {
	Steps   []TemplateStep `json:"steps"`
	Returns string         `json:"returns"`
}

// SecretSpec names one secret an action (or a template step, reached
// transitively) requires at dispatch time.
type SecretSpec struct {
	Name string `json:"name"`
	Keys []string `json:"keys,omitempty"`
}

// ManifestAction is one action entry in a RegistryVersion's manifest
// (spec §3.4).
type ManifestAction struct {
	Namespace string          `json:"namespace"`
	Name      string          `json:"name"`
	Type      ActionType      `json:"type"`
	Expects   json.RawMessage `json:"expects"` // JSON schema
	Returns   json.RawMessage `json:"returns"` // JSON schema or expression
	UDF       *UDFImplementation       `json:"udf,omitempty"`
	Template  *TemplateImplementation  `json:"template,omitempty"`
	Secrets   []SecretSpec             `json:"secrets,omitempty"`
	Options   map[string]any           `json:"options,omitempty"`
}

// Key returns the action's namespaced key, e.g. "core.http_request".
func (m ManifestAction) Key() string {
	if m.Namespace == "" {
		return m.Name
	}
	return m.Namespace + "." + m.Name
}

// RegistryVersion is one content-addressed snapshot of a registry
// origin's action set (spec §3.4).
type RegistryVersion struct {
	Origin   string                     `json:"origin"`
	Version  string                     `json:"version"`
	Manifest map[string]ManifestAction  `json:"manifest"`
}
