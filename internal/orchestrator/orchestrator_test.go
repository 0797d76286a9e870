package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/xonecas/turnengine/internal/approval"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sandbox"
)

type fakeTool struct {
	name           string
	requirement    ApprovalRequirement
	pref           sandbox.SandboxPreference
	override       SandboxOverride
	escalate       bool
	attempts       []Attempt
	failSandboxed  bool // fail with ErrSandboxDenied when attempt.Sandboxed
}

func (f *fakeTool) Name() string { return f.name }
func (f *fakeTool) ApprovalRequirement(protocol.ToolCallRequest, protocol.AskForApproval, protocol.SandboxPolicy) ApprovalRequirement {
	return f.requirement
}
func (f *fakeTool) SandboxPreference() sandbox.SandboxPreference { return f.pref }
func (f *fakeTool) SandboxOverrideForFirstAttempt(protocol.ToolCallRequest) SandboxOverride {
	return f.override
}
func (f *fakeTool) EscalateOnFailure() bool { return f.escalate }
func (f *fakeTool) Run(_ context.Context, _ protocol.ToolCallRequest, attempt Attempt) (protocol.ToolCallResult, error) {
	f.attempts = append(f.attempts, attempt)
	if attempt.Sandboxed && f.failSandboxed {
		return protocol.ToolCallResult{}, ErrSandboxDenied
	}
	return protocol.ToolCallResult{Success: true, Output: "ok"}, nil
}

type fakeApprover struct{ decision protocol.ReviewDecision }

func (a *fakeApprover) RequestApproval(context.Context, protocol.ToolCallRequest, string) protocol.ReviewDecision {
	return a.decision
}

func newOrchestrator(approver Approver) *Orchestrator {
	return New(sandbox.NewManager(), approval.NewCache(), approver)
}

func TestForbiddenToolRejectedWithoutRunning(t *testing.T) {
	tool := &fakeTool{name: "shell", requirement: ApprovalRequirement{Kind: ApprovalForbidden, Reason: "nope"}}
	o := newOrchestrator(&fakeApprover{})
	_, err := o.Run(context.Background(), tool, protocol.ToolCallRequest{}, protocol.ApprovalOnRequest, protocol.ReadOnlyPolicy())
	var rej *ErrRejected
	if !errors.As(err, &rej) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if len(tool.attempts) != 0 {
		t.Fatal("forbidden tool must never run")
	}
}

func TestDeniedApprovalRejectsWithoutRunning(t *testing.T) {
	tool := &fakeTool{name: "shell", requirement: ApprovalRequirement{Kind: ApprovalNeedsApproval, Reason: "review"}, override: BypassSandboxFirstAttempt}
	o := newOrchestrator(&fakeApprover{decision: protocol.DecisionDenied})
	_, err := o.Run(context.Background(), tool, protocol.ToolCallRequest{}, protocol.ApprovalOnRequest, protocol.ReadOnlyPolicy())
	var rej *ErrRejected
	if !errors.As(err, &rej) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if len(tool.attempts) != 0 {
		t.Fatal("denied tool must never run")
	}
}

func TestEscalatesOnSandboxDenialWhenApproved(t *testing.T) {
	tool := &fakeTool{
		name:          "shell",
		requirement:   ApprovalRequirement{Kind: ApprovalNeedsApproval, Reason: "review"},
		pref:          sandbox.PreferenceAuto,
		escalate:      true,
		failSandboxed: true,
	}
	sandbox.HasPlatformSandbox = func() bool { return true }
	defer func() { sandbox.HasPlatformSandbox = func() bool { return false } }()

	o := newOrchestrator(&fakeApprover{decision: protocol.DecisionApprovedForSession})
	result, err := o.Run(context.Background(), tool, protocol.ToolCallRequest{}, protocol.ApprovalOnRequest, protocol.ReadOnlyPolicy())
	if err != nil {
		t.Fatalf("expected escalation to succeed, got %v", err)
	}
	if !result.Success {
		t.Fatal("expected successful result after escalation")
	}
	if len(tool.attempts) != 2 {
		t.Fatalf("expected 2 attempts (sandboxed then unsandboxed), got %d", len(tool.attempts))
	}
	if !tool.attempts[0].Sandboxed {
		t.Fatal("first attempt should have been sandboxed")
	}
	if tool.attempts[1].Sandboxed {
		t.Fatal("escalated retry should not be sandboxed")
	}
}

func TestCachedApprovalForSessionSkipsRePrompt(t *testing.T) {
	tool := &fakeTool{name: "shell", requirement: ApprovalRequirement{Kind: ApprovalNeedsApproval, Reason: "review"}, override: BypassSandboxFirstAttempt}
	approver := &countingApprover{decision: protocol.DecisionApprovedForSession}
	o := New(sandbox.NewManager(), approval.NewCache(), approver)

	req := protocol.ToolCallRequest{Command: []string{"git", "status"}}
	if _, err := o.Run(context.Background(), tool, req, protocol.ApprovalOnRequest, protocol.ReadOnlyPolicy()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := o.Run(context.Background(), tool, req, protocol.ApprovalOnRequest, protocol.ReadOnlyPolicy()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if approver.calls != 1 {
		t.Fatalf("expected exactly 1 prompt, got %d", approver.calls)
	}
}

type countingApprover struct {
	decision protocol.ReviewDecision
	calls    int
}

func (a *countingApprover) RequestApproval(context.Context, protocol.ToolCallRequest, string) protocol.ReviewDecision {
	a.calls++
	return a.decision
}
