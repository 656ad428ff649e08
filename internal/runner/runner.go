package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/flowcore/flowcore/internal/errs"
)

// allowedEnvVars is the subprocess environment whitelist: only these
// ambient variables are forwarded from the host process, everything
// else must arrive through RunActionInput.Env/Secrets (spec §4.4
// "sandboxed").
var allowedEnvVars = []string{"PATH", "HOME", "LANG", "TZ"}

// ActionRunner executes one UDF action invocation as a Python
// subprocess, feeding RunActionInput on stdin and reading a single
// JSON line of result/error back from stdout.
type ActionRunner struct {
	cache      *TarballCache
	pythonPath string
}

// New constructs an ActionRunner over a shared TarballCache.
// Run prefers the extracted tarball's own "<tarball-dir>/.venv/bin/python";
// pythonPath is the interpreter used when that file does not exist
// (empty means "python3").
func New(cache *TarballCache, pythonPath string) *ActionRunner {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return &ActionRunner{cache: cache, pythonPath: pythonPath}
}

// Run extracts uri if needed, then runs module.function in a
// subprocess, passing args/env/secrets on stdin and parsing its stdout
// as a runOutput. It kills the subprocess if ctx is canceled or
// timeout elapses, returning *TimeoutError.
func (r *ActionRunner) Run(ctx context.Context, ref, uri, module, function string, args json.RawMessage, env, secrets map[string]any, timeout time.Duration) (json.RawMessage, error) {
	dir, err := r.cache.Dir(ctx, uri)
	if err != nil {
		return nil, errs.New(errs.KindRegistry, err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	input := RunActionInput{
		Module:   module,
		Function: function,
		Args:     args,
		Env:      env,
		Secrets:  secrets,
	}
	if timeout > 0 {
		input.Timeout = timeout.Seconds()
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("runner: marshal input for %q: %w", ref, err))
	}

	cmd := exec.CommandContext(runCtx, venvPython(dir, r.pythonPath), "-m", "flowcore_entrypoint")
	cmd.Dir = dir
	cmd.Env = filteredEnv()
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, errs.New(errs.KindTimeout, &TimeoutError{Ref: ref})
	}
	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, errs.New(errs.KindExecution, &SubprocessError{Ref: ref, ExitCode: exitCode, Stderr: errs.Sanitize(stderr.String())})
	}

	var out runOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, errs.New(errs.KindProtocol, &ProtocolError{Ref: ref, Message: err.Error()})
	}
	if out.Error != nil {
		return nil, errs.New(errs.KindExecution, fmt.Errorf("%s: %s", out.Error.Type, errs.Sanitize(out.Error.Message)))
	}
	return out.Result, nil
}

func venvPython(dir, fallback string) string {
	candidate := dir + "/.venv/bin/python"
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return fallback
}

func filteredEnv() []string {
	out := make([]string, 0, len(allowedEnvVars))
	for _, name := range allowedEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+v)
		}
	}
	return out
}
