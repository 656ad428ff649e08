package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/flowcore/flowcore/internal/registry"
)

// discoverEnvWhitelist is the subprocess environment forwarded to the
// discovery script — the same minimal surface the action runner
// forwards, since discovery runs the package's own import machinery
// and needs the interpreter to resolve (spec §4.3 phase 2 "discover
// actions via subprocess").
var discoverEnvWhitelist = []string{"PATH", "HOME", "LANG"}

// discoveryOutput is the JSON document the discovery subprocess prints
// to stdout: the full manifest for the package it was pointed at.
type discoveryOutput struct {
	Actions []registry.ManifestAction `json:"actions"`
}

// Discover runs `python -m flowcore_discover <packageDir>` in a
// subprocess and parses its manifest output. The subprocess imports
// every module under packageDir and introspects decorated action
// functions/templates, the same mechanism the runner later uses to
// invoke them, so discovery and dispatch never disagree about a
// package's shape.
func Discover(ctx context.Context, pythonPath, packageDir string) ([]registry.ManifestAction, error) {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	cmd := exec.CommandContext(ctx, pythonPath, "-m", "flowcore_discover", packageDir)
	cmd.Dir = packageDir
	cmd.Env = filteredDiscoverEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("registry/sync: discover actions in %q: %w: %s", packageDir, err, stderr.String())
	}

	var out discoveryOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("registry/sync: decode discovery output for %q: %w", packageDir, err)
	}
	return out.Actions, nil
}

func filteredDiscoverEnv() []string {
	env := make([]string, 0, len(discoverEnvWhitelist))
	for _, name := range discoverEnvWhitelist {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}
