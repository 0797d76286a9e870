package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/xonecas/turnengine/internal/protocol"
)

func TestSelectInitialForbidAlwaysUnsandboxed(t *testing.T) {
	m := NewManager()
	if got := m.SelectInitial(protocol.ReadOnlyPolicy(), PreferenceForbid); got {
		t.Fatal("PreferenceForbid must never select a sandbox")
	}
}

func TestSelectInitialAutoSkipsUnderDangerFullAccess(t *testing.T) {
	m := NewManager()
	if got := m.SelectInitial(protocol.DangerFullAccessPolicy(), PreferenceAuto); got {
		t.Fatal("PreferenceAuto under DangerFullAccess must not sandbox")
	}
}

func TestTransformUnsandboxedPassesThroughCommand(t *testing.T) {
	m := NewManager()
	spec := CommandSpec{Program: "echo", Args: []string{"hi"}, Cwd: "/tmp"}
	env, err := m.Transform(spec, protocol.ReadOnlyPolicy(), false)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(env.Command) != 2 || env.Command[0] != "echo" || env.Command[1] != "hi" {
		t.Fatalf("unexpected command: %v", env.Command)
	}
	if env.Sandboxed {
		t.Fatal("expected unsandboxed env")
	}
}

func TestTransformSetsNetworkDisabledEnvWhenNoNetwork(t *testing.T) {
	m := NewManager()
	spec := CommandSpec{Program: "echo", Args: nil, Cwd: "/tmp"}
	env, err := m.Transform(spec, protocol.ReadOnlyPolicy(), false)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if env.Env[NetworkDisabledEnvVar] != "1" {
		t.Fatalf("expected network-disabled env var to be set, got %v", env.Env)
	}
}

func TestTransformOmitsNetworkDisabledUnderDangerFullAccess(t *testing.T) {
	m := NewManager()
	spec := CommandSpec{Program: "echo", Cwd: "/tmp"}
	env, err := m.Transform(spec, protocol.DangerFullAccessPolicy(), false)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if _, set := env.Env[NetworkDisabledEnvVar]; set {
		t.Fatalf("did not expect network-disabled env var under DangerFullAccess")
	}
}

func TestExecuteCapturesOutput(t *testing.T) {
	env := ExecEnv{Command: []string{"/bin/echo", "hello"}, Timeout: 5 * time.Second}
	res := Execute(context.Background(), env, protocol.ReadOnlyPolicy())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestExecuteTimesOut(t *testing.T) {
	env := ExecEnv{Command: []string{"/bin/sleep", "5"}, Timeout: 50 * time.Millisecond}
	res := Execute(context.Background(), env, protocol.ReadOnlyPolicy())
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}
