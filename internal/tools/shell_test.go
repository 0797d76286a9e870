package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/xonecas/turnengine/internal/events"
	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sandbox"
)

func TestShellRuntimeRunSucceeds(t *testing.T) {
	r := &ShellRuntime{Sandbox: sandbox.NewManager()}
	req := protocol.ToolCallRequest{CallID: "c1", Command: []string{"echo", "hi"}}

	result, err := r.Run(context.Background(), req, orchestrator.Attempt{Sandboxed: false, Policy: protocol.DangerFullAccessPolicy()})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Output, "hi") {
		t.Fatalf("expected output to contain echoed text, got %q", result.Output)
	}
}

func TestShellRuntimeRunReportsNonZeroExit(t *testing.T) {
	r := &ShellRuntime{Sandbox: sandbox.NewManager()}
	req := protocol.ToolCallRequest{CallID: "c1", Command: []string{"sh", "-c", "exit 3"}}

	result, err := r.Run(context.Background(), req, orchestrator.Attempt{Sandboxed: false, Policy: protocol.DangerFullAccessPolicy()})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for non-zero exit code")
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestShellRuntimeRequiresCommand(t *testing.T) {
	r := &ShellRuntime{Sandbox: sandbox.NewManager()}
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure when no command is given")
	}
}

func TestShellRuntimePublishesExecEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	r := &ShellRuntime{Sandbox: sandbox.NewManager(), Events: bus}
	req := protocol.ToolCallRequest{CallID: "c1", Command: []string{"echo", "ok"}}
	if _, err := r.Run(context.Background(), req, orchestrator.Attempt{Sandboxed: false, Policy: protocol.DangerFullAccessPolicy()}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	var types []events.Type
	for i := 0; i < 2; i++ {
		select {
		case evt := <-sub:
			types = append(types, evt.Type)
		default:
		}
	}
	if len(types) != 2 || types[0] != events.TypeExecBegin || types[1] != events.TypeExecEnd {
		t.Fatalf("expected exec_begin then exec_end, got %v", types)
	}
}

func TestShellRuntimeNilEventsBusIsSafe(t *testing.T) {
	r := &ShellRuntime{Sandbox: sandbox.NewManager()}
	req := protocol.ToolCallRequest{CallID: "c1", Command: []string{"echo", "fine"}}
	if _, err := r.Run(context.Background(), req, orchestrator.Attempt{Sandboxed: false, Policy: protocol.DangerFullAccessPolicy()}); err != nil {
		t.Fatalf("Run returned error with nil Events bus: %v", err)
	}
}

func TestFormatShellOutputIncludesExitCodeAndTimeout(t *testing.T) {
	out := formatShellOutput("stdout text", "stderr text", 2, true)
	if !strings.Contains(out, "stdout text") || !strings.Contains(out, "stderr text") {
		t.Fatalf("expected both streams present, got %q", out)
	}
	if !strings.Contains(out, "[timed out]") || !strings.Contains(out, "[exit code: 2]") {
		t.Fatalf("expected timeout and exit code markers, got %q", out)
	}
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	s := strings.Repeat("a", 100)
	got := truncateMiddle(s, 20)
	if len(got) >= len(s) {
		t.Fatalf("expected truncation to shrink output, got len %d", len(got))
	}
	if !strings.HasPrefix(got, "aaaaaaaaaa") || !strings.HasSuffix(got, "aaaaaaaaaa") {
		t.Fatalf("expected head and tail preserved, got %q", got)
	}
}
