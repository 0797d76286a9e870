package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/xonecas/turnengine/internal/hub"
	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
)

func scriptedRunner(needsFollowUp bool, message string, err error) TurnRunner {
	return func(ctx context.Context, agent hub.AgentID, instructions, input string) (bool, string, error) {
		return needsFollowUp, message, err
	}
}

func TestCollabSpawnRunsAgentAndReportsIdle(t *testing.T) {
	r := &CollabRuntime{Hub: hub.New(hub.DefaultLimits()), RunTurn: scriptedRunner(false, "done reviewing", nil)}
	args, _ := json.Marshal(map[string]any{"action": "spawn", "name": "reviewer", "prompt": "review the diff"})

	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Output, "status: idle") || !strings.Contains(result.Output, "done reviewing") {
		t.Fatalf("unexpected output: %q", result.Output)
	}

	agent, ok := r.Hub.Agent(1)
	if !ok || agent.Status != hub.StatusIdle || agent.Name != "reviewer" {
		t.Fatalf("unexpected agent state: %+v ok=%v", agent, ok)
	}
}

func TestCollabSpawnRequiresPrompt(t *testing.T) {
	r := &CollabRuntime{Hub: hub.New(hub.DefaultLimits())}
	args, _ := json.Marshal(map[string]any{"action": "spawn", "name": "x"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure without a prompt")
	}
}

func TestCollabSendContinuesExistingAgent(t *testing.T) {
	h := hub.New(hub.DefaultLimits())
	h.EnsureRoot("main", "", nil)
	id, _ := h.SpawnChild(0, "worker", "", nil)

	r := &CollabRuntime{Hub: h, RunTurn: scriptedRunner(true, "still working", nil)}
	args, _ := json.Marshal(map[string]any{"action": "send", "agent_id": int(id), "prompt": "keep going"})

	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(result.Output, "waiting_for_approval") {
		t.Fatalf("expected waiting_for_approval status, got %q", result.Output)
	}

	agent, _ := h.Agent(id)
	if agent.Status != hub.StatusWaitingForApproval {
		t.Fatalf("expected hub state waiting_for_approval, got %s", agent.Status)
	}
}

func TestCollabSendToClosedAgentFails(t *testing.T) {
	h := hub.New(hub.DefaultLimits())
	h.EnsureRoot("main", "", nil)
	id, _ := h.SpawnChild(0, "worker", "", nil)
	h.Close(id)

	r := &CollabRuntime{Hub: h, RunTurn: scriptedRunner(false, "x", nil)}
	args, _ := json.Marshal(map[string]any{"action": "send", "agent_id": int(id), "prompt": "hi"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure sending to a closed agent")
	}
}

func TestCollabRunTurnErrorMarksAgentError(t *testing.T) {
	h := hub.New(hub.DefaultLimits())
	h.EnsureRoot("main", "", nil)
	id, _ := h.SpawnChild(0, "worker", "", nil)

	r := &CollabRuntime{Hub: h, RunTurn: scriptedRunner(false, "", fmt.Errorf("boom"))}
	args, _ := json.Marshal(map[string]any{"action": "send", "agent_id": int(id), "prompt": "hi"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure when the turn runner errors")
	}
	agent, _ := h.Agent(id)
	if agent.Status != hub.StatusError || agent.Err != "boom" {
		t.Fatalf("expected error state, got %+v", agent)
	}
}

func TestCollabWaitReportsCurrentStatus(t *testing.T) {
	h := hub.New(hub.DefaultLimits())
	h.EnsureRoot("main", "", nil)
	id, _ := h.SpawnChild(0, "worker", "", nil)
	h.SetIdle(id, "ready")

	r := &CollabRuntime{Hub: h}
	args, _ := json.Marshal(map[string]any{"action": "wait", "agent_id": int(id)})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(result.Output, "status: idle") || !strings.Contains(result.Output, "ready") {
		t.Fatalf("unexpected wait output: %q", result.Output)
	}
}

func TestCollabCloseMarksAgentClosed(t *testing.T) {
	h := hub.New(hub.DefaultLimits())
	h.EnsureRoot("main", "", nil)
	id, _ := h.SpawnChild(0, "worker", "", nil)

	r := &CollabRuntime{Hub: h}
	args, _ := json.Marshal(map[string]any{"action": "close", "agent_id": int(id)})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	agent, _ := h.Agent(id)
	if agent.Status != hub.StatusClosed {
		t.Fatalf("expected closed status, got %s", agent.Status)
	}
}

func TestCollabListReportsAllAgents(t *testing.T) {
	h := hub.New(hub.DefaultLimits())
	h.EnsureRoot("main", "", nil)
	h.SpawnChild(0, "a", "", nil)
	h.SpawnChild(0, "b", "", nil)

	r := &CollabRuntime{Hub: h}
	args, _ := json.Marshal(map[string]any{"action": "list"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !strings.Contains(result.Output, "main") || !strings.Contains(result.Output, "a") || !strings.Contains(result.Output, "b") {
		t.Fatalf("expected listing to include all agents, got %q", result.Output)
	}
}

func TestCollabUnknownActionFails(t *testing.T) {
	r := &CollabRuntime{Hub: hub.New(hub.DefaultLimits())}
	args, _ := json.Marshal(map[string]any{"action": "teleport"})
	result, err := r.Run(context.Background(), protocol.ToolCallRequest{Arguments: args}, orchestrator.Attempt{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure for unknown action")
	}
}
