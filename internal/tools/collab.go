package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/xonecas/turnengine/internal/hub"
	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sandbox"
)

// TurnRunner drives one turn of an agent's conversation to completion (or to
// its next tool-call boundary) and reports whether it needs another turn to
// finish. Injected rather than imported directly, so internal/tools never
// depends on internal/turn (which itself depends on internal/tools): the
// composition root (cmd/turnengine) wires the two together.
type TurnRunner func(ctx context.Context, agent hub.AgentID, instructions, input string) (needsFollowUp bool, lastMessage string, err error)

// CollabRuntime is the collab tool: spawn/send/wait/close, generalizing
// mcptools/subagent.go's one-shot SubAgentHandler into the named-session
// agent registry described by state/collaboration.rs. Unlike the
// reference's async CollaborationSupervisor, each action here runs
// synchronously to completion within one tool call, matching every other
// runtime in this package (shell, apply_patch, unified_exec all return once
// their work is done rather than handing back a handle to poll later).
type CollabRuntime struct {
	Hub     *hub.Hub
	RunTurn TurnRunner
}

type collabArgs struct {
	Action       string `json:"action"`
	AgentID      *int   `json:"agent_id,omitempty"`
	ParentID     *int   `json:"parent_agent_id,omitempty"`
	Name         string `json:"name,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
}

func (r *CollabRuntime) Name() string { return "collab" }

func (r *CollabRuntime) ApprovalRequirement(protocol.ToolCallRequest, protocol.AskForApproval, protocol.SandboxPolicy) orchestrator.ApprovalRequirement {
	return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalDefer}
}

func (r *CollabRuntime) SandboxPreference() sandbox.SandboxPreference { return sandbox.PreferenceForbid }

func (r *CollabRuntime) SandboxOverrideForFirstAttempt(protocol.ToolCallRequest) orchestrator.SandboxOverride {
	return orchestrator.BypassSandboxFirstAttempt
}

func (r *CollabRuntime) EscalateOnFailure() bool { return false }

func (r *CollabRuntime) Run(ctx context.Context, req protocol.ToolCallRequest, _ orchestrator.Attempt) (protocol.ToolCallResult, error) {
	var args collabArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	switch strings.ToLower(args.Action) {
	case "spawn":
		return r.spawn(ctx, args)
	case "send":
		return r.send(ctx, args)
	case "wait":
		return r.wait(args)
	case "close":
		return r.close(args)
	case "list":
		return r.list(), nil
	default:
		return protocol.ToolCallResult{Success: false, Output: "action must be one of: spawn, send, wait, close, list"}, nil
	}
}

func (r *CollabRuntime) spawn(ctx context.Context, args collabArgs) (protocol.ToolCallResult, error) {
	if args.Prompt == "" {
		return protocol.ToolCallResult{Success: false, Output: "prompt is required to spawn an agent"}, nil
	}
	parent := hub.AgentID(0)
	if args.ParentID != nil {
		parent = hub.AgentID(*args.ParentID)
	}
	r.Hub.EnsureRoot("main", "", nil)

	name := args.Name
	if name == "" {
		name = fmt.Sprintf("agent-%d", len(r.Hub.Agents()))
	}

	id, err := r.Hub.SpawnChild(parent, name, args.Instructions, nil)
	if err != nil {
		return protocol.ToolCallResult{Success: false, Output: err.Error()}, nil
	}

	return r.runAndReport(ctx, id, args.Instructions, args.Prompt)
}

func (r *CollabRuntime) send(ctx context.Context, args collabArgs) (protocol.ToolCallResult, error) {
	if args.AgentID == nil {
		return protocol.ToolCallResult{Success: false, Output: "agent_id is required"}, nil
	}
	if args.Prompt == "" {
		return protocol.ToolCallResult{Success: false, Output: "prompt is required"}, nil
	}
	id := hub.AgentID(*args.AgentID)
	agent, ok := r.Hub.Agent(id)
	if !ok {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("unknown agent %d", id)}, nil
	}
	if agent.Status == hub.StatusClosed {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("agent %d is closed", id)}, nil
	}

	return r.runAndReport(ctx, id, agent.Instructions, args.Prompt)
}

func (r *CollabRuntime) runAndReport(ctx context.Context, id hub.AgentID, instructions, prompt string) (protocol.ToolCallResult, error) {
	if r.RunTurn == nil {
		return protocol.ToolCallResult{Success: false, Output: "no turn runner configured for collab agents"}, nil
	}

	r.Hub.SetStatus(id, hub.StatusRunning)
	subID := r.Hub.NextSubID(id)
	r.Hub.RegisterSubID(id, subID)

	needsFollowUp, lastMessage, err := r.RunTurn(ctx, id, instructions, prompt)
	if err != nil {
		r.Hub.SetError(id, err.Error())
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("agent %d failed: %v", id, err)}, nil
	}

	if needsFollowUp {
		r.Hub.SetStatus(id, hub.StatusWaitingForApproval)
		return protocol.ToolCallResult{Success: true, Output: fmt.Sprintf("agent_id: %d\nstatus: waiting_for_approval\n%s", id, lastMessage)}, nil
	}

	r.Hub.SetIdle(id, lastMessage)
	return protocol.ToolCallResult{Success: true, Output: fmt.Sprintf("agent_id: %d\nstatus: idle\n%s", id, lastMessage)}, nil
}

func (r *CollabRuntime) wait(args collabArgs) (protocol.ToolCallResult, error) {
	if args.AgentID == nil {
		return protocol.ToolCallResult{Success: false, Output: "agent_id is required"}, nil
	}
	agent, ok := r.Hub.Agent(hub.AgentID(*args.AgentID))
	if !ok {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("unknown agent %d", *args.AgentID)}, nil
	}
	return protocol.ToolCallResult{Success: true, Output: fmt.Sprintf("agent_id: %d\nstatus: %s\n%s", agent.ID, agent.Status, agent.LastMessage)}, nil
}

func (r *CollabRuntime) close(args collabArgs) (protocol.ToolCallResult, error) {
	if args.AgentID == nil {
		return protocol.ToolCallResult{Success: false, Output: "agent_id is required"}, nil
	}
	id := hub.AgentID(*args.AgentID)
	if _, ok := r.Hub.Agent(id); !ok {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("unknown agent %d", id)}, nil
	}
	r.Hub.Close(id)
	return protocol.ToolCallResult{Success: true, Output: fmt.Sprintf("agent %d closed", id)}, nil
}

func (r *CollabRuntime) list() protocol.ToolCallResult {
	agents := r.Hub.Agents()
	var b strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&b, "%d\t%s\tdepth=%d\tstatus=%s\n", a.ID, a.Name, a.Depth, a.Status)
	}
	if b.Len() == 0 {
		return protocol.ToolCallResult{Success: true, Output: "(no agents)"}
	}
	return protocol.ToolCallResult{Success: true, Output: b.String()}
}
