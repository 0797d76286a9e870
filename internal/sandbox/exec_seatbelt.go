//go:build darwin

package sandbox

import (
	"fmt"

	"github.com/xonecas/turnengine/internal/protocol"
)

const macosSeatbeltExecutable = "/usr/bin/sandbox-exec"

func init() {
	HasPlatformSandbox = func() bool { return true }
	sandboxDenialMarkers = []string{"Sandbox: deny", "deny(1)", "Operation not permitted"}
}

// transformPlatform wraps command in a macOS Seatbelt invocation via
// sandbox-exec, building a profile from the active SandboxPolicy.
func (m *Manager) transformPlatform(command []string, policy protocol.SandboxPolicy, cwd string) ([]string, map[string]string, error) {
	profile := seatbeltProfile(policy, cwd)
	args := []string{"-p", profile, "--"}
	args = append(args, command...)

	full := make([]string, 0, len(args)+1)
	full = append(full, macosSeatbeltExecutable)
	full = append(full, args...)
	return full, map[string]string{"TURNENGINE_SANDBOX": "seatbelt"}, nil
}

// seatbeltProfile builds a minimal Seatbelt (sandbox-exec) profile string:
// deny everything by default, allow read-only filesystem access everywhere,
// allow write only under the policy's writable roots, and allow network
// only when the policy grants it.
func seatbeltProfile(policy protocol.SandboxPolicy, cwd string) string {
	profile := "(version 1)\n(deny default)\n(allow process-fork)\n(allow file-read*)\n"
	for _, root := range policy.WritableRoots() {
		profile += fmt.Sprintf("(allow file-write* (subpath %q))\n", root)
	}
	if policy.IsWorkspaceWrite() {
		profile += fmt.Sprintf("(allow file-write* (subpath %q))\n", cwd)
	}
	if policy.HasFullNetworkAccess() {
		profile += "(allow network*)\n"
	}
	return profile
}
