package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
)

func TestUnifiedExecStartSessionReturnsOutput(t *testing.T) {
	r := &UnifiedExecRuntime{}
	args, _ := json.Marshal(map[string]any{"cmd": "echo hello", "yield_time_ms": 500})
	req := protocol.ToolCallRequest{CallID: "c1", Arguments: args}

	result, err := r.Run(context.Background(), req, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Fatalf("expected output to contain echoed text, got %q", result.Output)
	}
	if !strings.HasPrefix(result.Output, "session_id: ") {
		t.Fatalf("expected output to report session_id, got %q", result.Output)
	}
}

func TestUnifiedExecWriteToSessionContinuesIt(t *testing.T) {
	r := &UnifiedExecRuntime{}
	startArgs, _ := json.Marshal(map[string]any{"cmd": "cat", "yield_time_ms": 200})
	started, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: startArgs}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("start Run returned error: %v", err)
	}

	firstLine := strings.SplitN(started.Output, "\n", 2)[0]
	idStr := strings.TrimPrefix(firstLine, "session_id: ")

	writeArgs, _ := json.Marshal(map[string]any{"session_id": idStr, "chars": "ping\n", "yield_time_ms": 500})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: writeArgs}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("write Run returned error: %v", err)
	}
	if !strings.Contains(result.Output, "ping") {
		t.Fatalf("expected cat to echo back written input, got %q", result.Output)
	}
}

func TestUnifiedExecUnknownSessionIDFails(t *testing.T) {
	r := &UnifiedExecRuntime{}
	args, _ := json.Marshal(map[string]any{"session_id": 9999, "chars": "x"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for unknown session id")
	}
	if !strings.Contains(result.Output, "does not exist") {
		t.Fatalf("expected explanatory message, got %q", result.Output)
	}
}

func TestUnifiedExecRejectsBothCmdAndSessionID(t *testing.T) {
	r := &UnifiedExecRuntime{}
	cmd := "echo hi"
	args, _ := json.Marshal(map[string]any{"cmd": cmd, "session_id": 1})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure when both cmd and session_id are given")
	}
	if !strings.Contains(result.Output, "not both") {
		t.Fatalf("expected mutual-exclusion message, got %q", result.Output)
	}
}

func TestUnifiedExecRejectsInvalidShellSyntax(t *testing.T) {
	r := &UnifiedExecRuntime{}
	args, _ := json.Marshal(map[string]any{"cmd": "echo 'unterminated"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for unparseable shell syntax")
	}
	if !strings.Contains(result.Output, "invalid shell syntax") {
		t.Fatalf("expected syntax error message, got %q", result.Output)
	}
}

func TestYieldDurationDefaultsWhenUnset(t *testing.T) {
	if got := yieldDuration(0); got != 2*time.Second {
		t.Fatalf("expected default of 2s, got %v", got)
	}
	if got := yieldDuration(150); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %v", got)
	}
}

func TestParseSessionIDAcceptsIntAndString(t *testing.T) {
	raw, _ := json.Marshal(42)
	id, err := parseSessionID(raw)
	if err != nil || id != 42 {
		t.Fatalf("expected 42, got %d err=%v", id, err)
	}

	raw, _ = json.Marshal("7")
	id, err = parseSessionID(raw)
	if err != nil || id != 7 {
		t.Fatalf("expected 7, got %d err=%v", id, err)
	}

	raw, _ = json.Marshal("not-a-number")
	if _, err := parseSessionID(raw); err == nil {
		t.Fatal("expected error for non-numeric session_id")
	}
}
