//go:build linux

package sandbox

import (
	"errors"

	"github.com/xonecas/turnengine/internal/protocol"
)

// ErrMissingLinuxSandboxExecutable is returned when a Linux sandbox is
// requested but Manager.LinuxSandboxExecutable was not configured.
var ErrMissingLinuxSandboxExecutable = errors.New("missing landlock sandbox helper executable path")

func init() {
	HasPlatformSandbox = func() bool { return true }
	sandboxDenialMarkers = []string{"Permission denied", "landlock: denied"}
}

// transformPlatform re-execs command through the configured Landlock
// helper binary, which applies filesystem/network restrictions via
// landlock+seccomp before exec'ing the real command.
func (m *Manager) transformPlatform(command []string, policy protocol.SandboxPolicy, cwd string) ([]string, map[string]string, error) {
	if m.LinuxSandboxExecutable == "" {
		return nil, nil, ErrMissingLinuxSandboxExecutable
	}
	args := landlockArgs(command, policy, cwd)
	full := make([]string, 0, len(args)+1)
	full = append(full, m.LinuxSandboxExecutable)
	full = append(full, args...)
	return full, nil, nil
}

// landlockArgs builds the helper's CLI contract: writable roots, a
// network flag, then "--" followed by the real command.
func landlockArgs(command []string, policy protocol.SandboxPolicy, cwd string) []string {
	var args []string
	for _, root := range policy.WritableRoots() {
		args = append(args, "--writable-root", root)
	}
	if policy.IsWorkspaceWrite() {
		args = append(args, "--writable-root", cwd)
	}
	if policy.HasFullNetworkAccess() {
		args = append(args, "--allow-network")
	}
	args = append(args, "--")
	args = append(args, command...)
	return args
}
