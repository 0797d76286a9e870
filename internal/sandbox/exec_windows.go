//go:build windows

package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/xonecas/turnengine/internal/protocol"
)

func init() {
	HasPlatformSandbox = func() bool { return true }
	applySandboxAttr = applyRestrictedToken
}

// transformPlatform leaves the command line unchanged on Windows: the
// restricted-token sandbox is applied at process-creation time (see
// newRestrictedProcessAttr below), not by rewriting argv the way Seatbelt and
// Landlock do.
func (m *Manager) transformPlatform(command []string, _ protocol.SandboxPolicy, _ string) ([]string, map[string]string, error) {
	return command, nil, nil
}

// newRestrictedProcessAttr builds a SysProcAttr that runs the child under a
// restricted token created with DISABLE_MAX_PRIVILEGE, adding SANDBOX_INERT
// when the policy lacks full network access. No SIDs are disabled or
// restricted, no write-restricted flag is set, and no capability SIDs or
// named pipes are used; nothing here confines the child's network or
// filesystem access beyond the dropped privileges.
func newRestrictedProcessAttr(policy protocol.SandboxPolicy) (*syscall.SysProcAttr, error) {
	var procToken windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_DUPLICATE|windows.TOKEN_QUERY, &procToken); err != nil {
		return nil, fmt.Errorf("open process token: %w", err)
	}
	defer procToken.Close()

	flags := uint32(windows.DISABLE_MAX_PRIVILEGE)
	if !policy.HasFullNetworkAccess() {
		flags |= windows.SANDBOX_INERT
	}

	restricted, err := procToken.CreateRestrictedToken(flags, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create restricted token: %w", err)
	}

	return &syscall.SysProcAttr{Token: syscall.Token(restricted)}, nil
}

// applyRestrictedToken attaches a restricted-token SysProcAttr to cmd
// before Execute's exec.CommandContext starts it, when the placement is
// sandboxed on Windows.
func applyRestrictedToken(_ context.Context, cmd *exec.Cmd, env ExecEnv, policy protocol.SandboxPolicy) error {
	if !env.Sandboxed {
		return nil
	}
	attr, err := newRestrictedProcessAttr(policy)
	if err != nil {
		return err
	}
	cmd.SysProcAttr = attr
	return nil
}
