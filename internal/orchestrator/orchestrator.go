// Package orchestrator drives the single sequence every tool call goes
// through: approval, sandbox selection, the first attempt, and — on
// sandbox denial — one escalated retry without a sandbox. Ported from the
// reference ToolOrchestrator::run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/turnengine/internal/approval"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sandbox"
)

// ErrSandboxDenied signals that a command failed specifically because the
// sandbox denied it (as opposed to the command itself failing), which is
// the only failure mode that triggers the escalation retry.
var ErrSandboxDenied = errors.New("sandbox denied command")

// ErrRejected signals the user (or a cached decision) refused the tool
// call outright; it is always terminal.
type ErrRejected struct{ Reason string }

func (e *ErrRejected) Error() string { return "rejected: " + e.Reason }

// ApprovalKind is the outcome of a tool's static approval-requirement
// check, before any user interaction happens.
type ApprovalKind int

const (
	// ApprovalDefer means the tool has no opinion; fall back to the
	// session's approval policy via defaultApprovalRequirement.
	ApprovalDefer ApprovalKind = iota
	ApprovalSkip
	ApprovalForbidden
	ApprovalNeedsApproval
)

type ApprovalRequirement struct {
	Kind   ApprovalKind
	Reason string
}

// SandboxOverride lets a tool bypass the normal sandbox-selection logic
// entirely for its first attempt (used by tools that are never
// meaningfully sandboxable, like a pure in-memory patch application).
type SandboxOverride int

const (
	NoOverride SandboxOverride = iota
	BypassSandboxFirstAttempt
)

// Attempt describes the sandbox placement for one run of a tool.
type Attempt struct {
	Sandboxed bool
	Policy    protocol.SandboxPolicy
}

// Runtime is the interface every tool (shell, apply_patch, unified_exec,
// collab) implements to participate in orchestration.
type Runtime interface {
	Name() string
	ApprovalRequirement(req protocol.ToolCallRequest, policy protocol.AskForApproval, sandboxPolicy protocol.SandboxPolicy) ApprovalRequirement
	SandboxPreference() sandbox.SandboxPreference
	SandboxOverrideForFirstAttempt(req protocol.ToolCallRequest) SandboxOverride
	EscalateOnFailure() bool
	Run(ctx context.Context, req protocol.ToolCallRequest, attempt Attempt) (protocol.ToolCallResult, error)
}

// Approver asks the user (or a configured non-interactive policy) for a
// decision on a tool call that needs approval.
type Approver interface {
	RequestApproval(ctx context.Context, req protocol.ToolCallRequest, reason string) protocol.ReviewDecision
}

// Orchestrator runs tool calls through the approval/sandbox/escalation
// sequence, caching ApprovedForSession decisions across calls.
type Orchestrator struct {
	Sandbox  *sandbox.Manager
	Approval *approval.Cache
	Approver Approver
}

func New(mgr *sandbox.Manager, cache *approval.Cache, approver Approver) *Orchestrator {
	return &Orchestrator{Sandbox: mgr, Approval: cache, Approver: approver}
}

// defaultApprovalRequirement mirrors default_approval_requirement: it
// derives a requirement purely from the session's approval policy and
// sandbox policy when the tool itself has no opinion.
func defaultApprovalRequirement(policy protocol.AskForApproval, sandboxPolicy protocol.SandboxPolicy) ApprovalRequirement {
	switch policy {
	case protocol.ApprovalNever:
		return ApprovalRequirement{Kind: ApprovalSkip}
	case protocol.ApprovalUntrusted:
		return ApprovalRequirement{Kind: ApprovalNeedsApproval, Reason: "untrusted approval policy requires review"}
	case protocol.ApprovalOnFailure:
		return ApprovalRequirement{Kind: ApprovalSkip}
	default: // ApprovalOnRequest
		if sandboxPolicy.IsDangerFullAccess() {
			return ApprovalRequirement{Kind: ApprovalNeedsApproval, Reason: "danger-full-access requires review"}
		}
		return ApprovalRequirement{Kind: ApprovalSkip}
	}
}

// Run executes tool for req under policy/sandboxPolicy, following the
// approval → sandbox-select → attempt → escalate-on-denial sequence.
func (o *Orchestrator) Run(ctx context.Context, tool Runtime, req protocol.ToolCallRequest, policy protocol.AskForApproval, sandboxPolicy protocol.SandboxPolicy) (protocol.ToolCallResult, error) {
	key := approval.Key{ToolName: tool.Name(), Command: req.Command, Cwd: req.Workdir}

	requirement := tool.ApprovalRequirement(req, policy, sandboxPolicy)
	if requirement.Kind == ApprovalDefer {
		requirement = defaultApprovalRequirement(policy, sandboxPolicy)
	}

	alreadyApproved := false
	switch requirement.Kind {
	case ApprovalForbidden:
		return protocol.ToolCallResult{}, &ErrRejected{Reason: requirement.Reason}
	case ApprovalNeedsApproval:
		if cached, ok := o.Approval.Lookup(key); ok && cached == protocol.DecisionApprovedForSession {
			alreadyApproved = true
			break
		}
		decision := o.Approver.RequestApproval(ctx, req, requirement.Reason)
		o.Approval.Remember(key, decision)
		switch decision {
		case protocol.DecisionDenied, protocol.DecisionAbort:
			return protocol.ToolCallResult{}, &ErrRejected{Reason: "rejected by user"}
		}
		alreadyApproved = true
	}

	initialSandboxed := tool.SandboxOverrideForFirstAttempt(req) != BypassSandboxFirstAttempt &&
		o.Sandbox.SelectInitial(sandboxPolicy, tool.SandboxPreference())

	result, err := tool.Run(ctx, req, Attempt{Sandboxed: initialSandboxed, Policy: sandboxPolicy})
	if !initialSandboxed {
		return result, err
	}
	if !errors.Is(err, ErrSandboxDenied) {
		return result, err
	}

	if tool.SandboxPreference() == sandbox.PreferenceRequire || !tool.EscalateOnFailure() || !alreadyApproved {
		return result, err
	}

	log.Warn().Str("tool", tool.Name()).Str("call_id", req.CallID).Msg("sandbox denied command, retrying without sandbox")
	result, err = tool.Run(ctx, req, Attempt{Sandboxed: false, Policy: protocol.DangerFullAccessPolicy()})
	if errors.Is(err, ErrSandboxDenied) {
		return result, &ErrRejected{Reason: fmt.Sprintf("sandbox denied the command even after approving it without sandbox: %v", err)}
	}
	return result, err
}
