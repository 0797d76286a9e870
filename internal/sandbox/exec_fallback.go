//go:build !darwin && !linux && !windows

package sandbox

import "github.com/xonecas/turnengine/internal/protocol"

// transformPlatform is a no-op on platforms with no native sandbox
// mechanism wired in; HasPlatformSandbox stays false so SelectInitial
// never asks for one here.
func (m *Manager) transformPlatform(command []string, _ protocol.SandboxPolicy, _ string) ([]string, map[string]string, error) {
	return command, nil, nil
}
