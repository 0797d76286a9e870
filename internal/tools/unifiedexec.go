package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/ptysession"
	"github.com/xonecas/turnengine/internal/sandbox"
)

// UnifiedExecRuntime is the unified_exec tool: either starts a new
// interactive session (cmd) or writes to an existing one (session_id),
// returning whatever output the session produced within yield_time_ms.
// New, grounded on original_source's tools/handlers/unified_exec.rs; the
// session bookkeeping is built on internal/ptysession.
type UnifiedExecRuntime struct {
	Cwd string

	mu       sync.Mutex
	sessions map[int]*ptysession.Session
	nextID   int
}

type unifiedExecArgs struct {
	Cmd         *string         `json:"cmd,omitempty"`
	SessionID   json.RawMessage `json:"session_id,omitempty"`
	Chars       string          `json:"chars,omitempty"`
	YieldTimeMs int64           `json:"yield_time_ms,omitempty"`
	Shell       string          `json:"shell,omitempty"`
	Login       bool            `json:"login,omitempty"`
	Cwd         string          `json:"cwd,omitempty"`
}

func (r *UnifiedExecRuntime) Name() string { return "unified_exec" }

func (r *UnifiedExecRuntime) ApprovalRequirement(protocol.ToolCallRequest, protocol.AskForApproval, protocol.SandboxPolicy) orchestrator.ApprovalRequirement {
	return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalDefer}
}

func (r *UnifiedExecRuntime) SandboxPreference() sandbox.SandboxPreference { return sandbox.PreferenceAuto }

func (r *UnifiedExecRuntime) SandboxOverrideForFirstAttempt(protocol.ToolCallRequest) orchestrator.SandboxOverride {
	// Sessions are long-lived and interactively driven; sandboxing the
	// spawn the same way a one-shot shell command is sandboxed does not
	// compose with a persistent PTY, so unified_exec runs unsandboxed.
	return orchestrator.BypassSandboxFirstAttempt
}

func (r *UnifiedExecRuntime) EscalateOnFailure() bool { return false }

func (r *UnifiedExecRuntime) Run(ctx context.Context, req protocol.ToolCallRequest, _ orchestrator.Attempt) (protocol.ToolCallResult, error) {
	var args unifiedExecArgs
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}

	if len(args.SessionID) > 0 {
		if args.Cmd != nil {
			return protocol.ToolCallResult{Success: false, Output: "provide either cmd or session_id, not both"}, nil
		}
		return r.writeToSession(args)
	}

	if args.Cmd == nil {
		return protocol.ToolCallResult{Success: false, Output: "cmd is required when session_id is not provided"}, nil
	}
	return r.startSession(req, args)
}

// startSession spawns a session against context.Background(), not the Run
// call's ctx: the session is meant to outlive this single tool call, so
// tying its process lifetime to a context that ends when Run returns would
// kill it immediately after the first yield.
func (r *UnifiedExecRuntime) startSession(req protocol.ToolCallRequest, args unifiedExecArgs) (protocol.ToolCallResult, error) {
	cmd := *args.Cmd
	if _, err := syntax.NewParser().Parse(strings.NewReader(cmd), ""); err != nil {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("invalid shell syntax: %v", err)}, nil
	}

	shellName := args.Shell
	if shellName == "" {
		shellName = "/bin/sh"
	}
	flag := "-c"
	if args.Login {
		flag = "-lc"
	}

	cwd := args.Cwd
	if cwd == "" {
		cwd = req.Workdir
	}
	if cwd == "" {
		cwd = r.Cwd
	}

	sess, err := ptysession.Start(context.Background(), ptysession.Options{
		Program:     shellName,
		Args:        []string{flag, cmd},
		Cwd:         cwd,
		Interactive: true,
		Rows:        24,
		Cols:        80,
	})
	if err != nil {
		return protocol.ToolCallResult{Success: false, Output: err.Error()}, nil
	}

	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = map[int]*ptysession.Session{}
	}
	r.nextID++
	id := r.nextID
	r.sessions[id] = sess
	r.mu.Unlock()

	output := r.collectFor(sess, yieldDuration(args.YieldTimeMs))
	return protocol.ToolCallResult{Success: true, Output: fmt.Sprintf("session_id: %d\n%s", id, output)}, nil
}

func (r *UnifiedExecRuntime) writeToSession(args unifiedExecArgs) (protocol.ToolCallResult, error) {
	id, err := parseSessionID(args.SessionID)
	if err != nil {
		return protocol.ToolCallResult{Success: false, Output: err.Error()}, nil
	}

	r.mu.Lock()
	sess := r.sessions[id]
	r.mu.Unlock()
	if sess == nil {
		return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("session %d has already exited or does not exist. Start a new session with cmd.", id)}, nil
	}

	if args.Chars != "" {
		if _, err := sess.Write([]byte(args.Chars)); err != nil {
			return protocol.ToolCallResult{Success: false, Output: fmt.Sprintf("failed to write to session %d; the process may have exited", id)}, nil
		}
	}

	output := r.collectFor(sess, yieldDuration(args.YieldTimeMs))
	return protocol.ToolCallResult{Success: true, Output: output}, nil
}

// collectFor drains sess's output for up to d, then returns whatever
// accumulated — unified_exec never blocks until process exit.
func (r *UnifiedExecRuntime) collectFor(sess *ptysession.Session, d time.Duration) string {
	sub := sess.Subscribe()
	var out strings.Builder
	deadline := time.After(d)
	for {
		select {
		case chunk, ok := <-sub:
			if !ok {
				return out.String()
			}
			out.Write(chunk)
		case <-deadline:
			return out.String()
		}
	}
}

func yieldDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 2 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

func parseSessionID(raw json.RawMessage) (int, error) {
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt, nil
	}
	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		n, err := strconv.Atoi(asStr)
		if err != nil {
			return 0, fmt.Errorf("invalid session_id %q: %w", asStr, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("session_id must be a string or integer")
}
