package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xonecas/turnengine/internal/events"
	"github.com/xonecas/turnengine/internal/execpolicy"
	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sandbox"
)

const (
	// maxOutputChars mirrors mcptools/shell.go's cap on tool-result text.
	maxOutputChars    = 30000
	defaultTimeoutSec = 60
	maxTimeoutSec     = 600
)

// ShellRuntime runs the shell/local_shell/container_exec tool through the
// Sandbox Manager, generalizing mcptools/shell.go's ShellHandler.Handle
// (formatShellOutput, truncateMiddle kept near-verbatim) from an in-process
// mvdan interpreter invocation into a real subprocess run under whatever
// sandbox placement the orchestrator selects.
type ShellRuntime struct {
	Sandbox   *sandbox.Manager
	Evaluator *execpolicy.Evaluator
	Events    *events.Bus
	Cwd       string
}

func (r *ShellRuntime) Name() string { return "shell" }

func (r *ShellRuntime) ApprovalRequirement(req protocol.ToolCallRequest, policy protocol.AskForApproval, sandboxPolicy protocol.SandboxPolicy) orchestrator.ApprovalRequirement {
	if r.Evaluator == nil || len(req.Command) == 0 {
		return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalDefer}
	}
	outcome := r.Evaluator.Evaluate(context.Background(), "", req.Command)
	switch outcome.Decision {
	case protocol.ExecForbidden:
		reason := "forbidden by exec policy"
		if outcome.MatchedRuleID != "" {
			reason = fmt.Sprintf("forbidden by exec policy rule %s", outcome.MatchedRuleID)
		}
		return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalForbidden, Reason: reason}
	case protocol.ExecPrompt:
		reason := "command requires review"
		if outcome.MatchedRuleID != "" {
			reason = fmt.Sprintf("exec policy rule %s requires review", outcome.MatchedRuleID)
		}
		return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalNeedsApproval, Reason: reason}
	default:
		return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalDefer}
	}
}

func (r *ShellRuntime) SandboxPreference() sandbox.SandboxPreference { return sandbox.PreferenceAuto }

func (r *ShellRuntime) SandboxOverrideForFirstAttempt(req protocol.ToolCallRequest) orchestrator.SandboxOverride {
	if r.Evaluator != nil && len(req.Command) > 0 {
		outcome := r.Evaluator.Evaluate(context.Background(), "", req.Command)
		if outcome.RunWithEscalatedPerms {
			return orchestrator.BypassSandboxFirstAttempt
		}
	}
	return orchestrator.NoOverride
}

func (r *ShellRuntime) EscalateOnFailure() bool { return true }

// Run executes req.Command under attempt's sandbox placement, capturing
// bounded stdout/stderr and formatting the result the way
// formatShellOutput does for the teacher's Shell tool.
func (r *ShellRuntime) Run(ctx context.Context, req protocol.ToolCallRequest, attempt orchestrator.Attempt) (protocol.ToolCallResult, error) {
	if len(req.Command) == 0 {
		return protocol.ToolCallResult{Success: false, Output: "command is required"}, nil
	}

	timeout := defaultTimeoutSec
	if req.TimeoutMillis > 0 {
		timeout = int(req.TimeoutMillis / 1000)
	}
	if timeout > maxTimeoutSec {
		timeout = maxTimeoutSec
	}

	cwd := r.Cwd
	if req.Workdir != "" {
		cwd = req.Workdir
	}

	spec := sandbox.CommandSpec{
		Program:                  req.Command[0],
		Args:                     req.Command[1:],
		Cwd:                      cwd,
		Timeout:                  time.Duration(timeout) * time.Second,
		WithEscalatedPermissions: req.WithEscalatedPermissions,
		Justification:            req.Justification,
	}

	env, err := r.Sandbox.Transform(spec, attempt.Policy, attempt.Sandboxed)
	if err != nil {
		return protocol.ToolCallResult{Success: false, Output: err.Error()}, nil
	}

	r.Events.Publish(events.Event{Type: events.TypeExecBegin, CallID: req.CallID, Text: strings.Join(req.Command, " ")})

	result := sandbox.Execute(ctx, env, attempt.Policy)

	output := formatShellOutput(result.Stdout, result.Stderr, result.ExitCode, result.TimedOut)
	if output == "" {
		output = "(no output)\n"
	}
	if len([]rune(output)) > maxOutputChars {
		output = truncateMiddle(output, maxOutputChars)
	}

	r.Events.Publish(events.Event{Type: events.TypeExecEnd, CallID: req.CallID, Text: output, ExitCode: result.ExitCode})

	if result.SandboxDenied {
		return protocol.ToolCallResult{}, orchestrator.ErrSandboxDenied
	}

	return protocol.ToolCallResult{Success: result.ExitCode == 0 && !result.TimedOut, Output: output, ExitCode: result.ExitCode}, nil
}

// formatShellOutput kept verbatim from mcptools/shell.go's helper of the
// same name, adapted to the sandbox.Result shape (TimedOut bool instead of
// a context error).
func formatShellOutput(stdout, stderr string, exitCode int, timedOut bool) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if stderr != "" {
		b.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			b.WriteByte('\n')
		}
	}
	if timedOut {
		fmt.Fprintf(&b, "[timed out]\n")
	}
	if exitCode != 0 {
		fmt.Fprintf(&b, "[exit code: %d]\n", exitCode)
	}
	return b.String()
}

// truncateMiddle kept verbatim from mcptools/shell.go.
func truncateMiddle(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	half := maxChars / 2
	return string(runes[:half]) + "\n\n... [truncated] ...\n\n" + string(runes[len(runes)-half:])
}
