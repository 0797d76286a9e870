// Package sandbox selects a sandbox placement for a command and transforms
// a portable CommandSpec into a ready-to-spawn ExecEnv, then runs it,
// capturing bounded output the way a subprocess-based tool runtime needs.
//
// The selection and transform algorithms are ported from the reference
// SandboxManager (select_initial/transform/transform_platform); the
// subprocess execution mechanics (timeout via context, output capped with
// a bounded writer) are grounded on the retrieval pack's clearest example
// of exactly that pattern, nevindra-oasis's cmd/sandbox/runner.go.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xonecas/turnengine/internal/protocol"
)

// NetworkDisabledEnvVar is set in a command's environment whenever the
// active sandbox policy does not grant full network access, mirroring
// CODEX_SANDBOX_NETWORK_DISABLED_ENV_VAR.
const NetworkDisabledEnvVar = "TURNENGINE_SANDBOX_NETWORK_DISABLED"

// SandboxPreference is a tool runtime's own opinion about whether it wants
// to run sandboxed at all, independent of the session's SandboxPolicy.
type SandboxPreference int

const (
	PreferenceAuto SandboxPreference = iota
	PreferenceRequire
	PreferenceForbid
)

// CommandSpec is the portable description of a command before any
// sandbox-specific transformation is applied.
type CommandSpec struct {
	Program                  string
	Args                     []string
	Cwd                      string
	Env                      map[string]string
	Timeout                  time.Duration
	WithEscalatedPermissions bool
	Justification            string
}

// ExecEnv is a CommandSpec after sandbox placement: the argv, env, and cwd
// actually handed to exec.Command.
type ExecEnv struct {
	Command                  []string
	Cwd                      string
	Env                      map[string]string
	Timeout                  time.Duration
	Sandboxed                bool
	WithEscalatedPermissions bool
	Justification            string
}

// HasPlatformSandbox reports whether a native OS sandbox mechanism is
// available on the running platform; overridden per-OS in platform files.
var HasPlatformSandbox = hasPlatformSandboxDefault

func hasPlatformSandboxDefault() bool { return false }

// applySandboxAttr attaches any OS-specific process attributes needed to
// place cmd under the active sandbox before it starts. A no-op except on
// Windows, where it installs the restricted token (see exec_windows.go).
var applySandboxAttr = func(_ context.Context, _ *exec.Cmd, _ ExecEnv, _ protocol.SandboxPolicy) error {
	return nil
}

// Manager selects and applies sandbox placement.
type Manager struct {
	// LinuxSandboxExecutable is the helper binary path required on Linux to
	// run commands under Landlock; transform fails if this is empty and a
	// Linux sandbox is requested.
	LinuxSandboxExecutable string
}

func NewManager() *Manager { return &Manager{} }

// SelectInitial decides whether the first attempt at running a command
// should be sandboxed, given the session's policy and the tool's own
// sandbox preference.
func (m *Manager) SelectInitial(policy protocol.SandboxPolicy, pref SandboxPreference) bool {
	switch pref {
	case PreferenceForbid:
		return false
	case PreferenceRequire:
		return HasPlatformSandbox()
	default: // PreferenceAuto
		if policy.IsDangerFullAccess() {
			return false
		}
		return HasPlatformSandbox()
	}
}

// Transform turns spec into an ExecEnv, applying the platform sandbox
// wrapper when sandboxed is true.
func (m *Manager) Transform(spec CommandSpec, policy protocol.SandboxPolicy, sandboxed bool) (ExecEnv, error) {
	env := map[string]string{}
	for k, v := range spec.Env {
		env[k] = v
	}
	if !policy.HasFullNetworkAccess() {
		env[NetworkDisabledEnvVar] = "1"
	}

	command := make([]string, 0, len(spec.Args)+1)
	command = append(command, spec.Program)
	command = append(command, spec.Args...)

	if !sandboxed {
		return ExecEnv{
			Command: command, Cwd: spec.Cwd, Env: env, Timeout: spec.Timeout,
			Sandboxed: false, WithEscalatedPermissions: spec.WithEscalatedPermissions, Justification: spec.Justification,
		}, nil
	}

	wrapped, platformEnv, err := m.transformPlatform(command, policy, spec.Cwd)
	if err != nil {
		return ExecEnv{}, err
	}
	for k, v := range platformEnv {
		env[k] = v
	}
	return ExecEnv{
		Command: wrapped, Cwd: spec.Cwd, Env: env, Timeout: spec.Timeout,
		Sandboxed: true, WithEscalatedPermissions: spec.WithEscalatedPermissions, Justification: spec.Justification,
	}, nil
}

// Result is the outcome of running an ExecEnv.
type Result struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	TimedOut      bool
	SandboxDenied bool
	Err           error
}

// sandboxDenialMarkers are stderr substrings that indicate the platform
// sandbox itself refused the operation (as opposed to the command simply
// failing on its own), registered per-OS in the platform files. An empty
// set means this platform never distinguishes the two.
var sandboxDenialMarkers []string

func looksSandboxDenied(stderr string) bool {
	for _, marker := range sandboxDenialMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

const defaultMaxOutput = 512 * 1024

// Execute spawns env.Command and captures bounded stdout/stderr, enforcing
// env.Timeout via context when set.
func Execute(ctx context.Context, env ExecEnv, policy protocol.SandboxPolicy) Result {
	if env.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.Timeout)
		defer cancel()
	}
	if len(env.Command) == 0 {
		return Result{Err: fmt.Errorf("empty command")}
	}

	cmd := exec.CommandContext(ctx, env.Command[0], env.Command[1:]...)
	cmd.Dir = env.Cwd
	for k, v := range env.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if err := applySandboxAttr(ctx, cmd, env, policy); err != nil {
		return Result{Err: fmt.Errorf("apply sandbox attributes: %w", err)}
	}

	var stdout, stderr limitedBuffer
	stdout.limit, stderr.limit = defaultMaxOutput, defaultMaxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
			res.ExitCode = 124
			res.Err = fmt.Errorf("command timed out after %s", env.Timeout)
			return res
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			if env.Sandboxed && looksSandboxDenied(res.Stderr) {
				res.SandboxDenied = true
			}
			return res
		}
		res.ExitCode = -1
		res.Err = err
		return res
	}
	return res
}

// limitedBuffer caps captured output the way runner.limitedWriter does in
// the subprocess-sandbox reference it's grounded on.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	if w.buf.Len() < w.limit {
		remaining := w.limit - w.buf.Len()
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

func (w *limitedBuffer) String() string { return w.buf.String() }

// resolveExecutable best-effort resolves program to an absolute path using
// PATH lookup, for use by the exec policy evaluator's argv0 canonicalization.
func resolveExecutable(program string) string {
	if filepath.IsAbs(program) {
		return program
	}
	if p, err := exec.LookPath(program); err == nil {
		return p
	}
	return program
}
