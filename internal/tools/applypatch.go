// Package tools holds the concrete ToolRuntime implementations the Tool
// Orchestrator dispatches to: shell, apply_patch, unified_exec, and collab.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sandbox"
)

// Sentinel lines of the patch DSL, generalized from mcptools/edit.go's
// hash-anchored single-file operations into the spec's multi-file textual
// patch format.
const (
	patchBegin  = "*** Begin Patch"
	patchEnd    = "*** End Patch"
	prefixAdd   = "*** Add File: "
	prefixDel   = "*** Delete File: "
	prefixUpd   = "*** Update File: "
	prefixMove  = "*** Move to: "
)

// fileOp is one file-level operation within a patch.
type fileOp struct {
	kind    string // "add", "delete", "update"
	path    string
	moveTo  string
	hunks   []hunk // only for update
	content string // only for add
}

// hunk is a contiguous block of context/added/removed lines within an
// update operation, matched against the file by exact context-line search
// (no line numbers, mirroring the real apply_patch DSL).
type hunk struct {
	lines []hunkLine
}

type hunkLine struct {
	op   byte // ' ', '+', '-'
	text string
}

// ParsePatch parses the sentinel-delimited patch text into file operations.
func ParsePatch(patch string) ([]fileOp, error) {
	lines := strings.Split(patch, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != patchBegin {
		return nil, fmt.Errorf("patch must start with %q", patchBegin)
	}

	var ops []fileOp
	i := 1
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.TrimSpace(line) == patchEnd:
			return ops, nil
		case strings.HasPrefix(line, prefixAdd):
			op := fileOp{kind: "add", path: strings.TrimPrefix(line, prefixAdd)}
			i++
			var content []string
			for i < len(lines) && strings.HasPrefix(lines[i], "+") {
				content = append(content, strings.TrimPrefix(lines[i], "+"))
				i++
			}
			op.content = strings.Join(content, "\n")
			ops = append(ops, op)
			continue
		case strings.HasPrefix(line, prefixDel):
			ops = append(ops, fileOp{kind: "delete", path: strings.TrimPrefix(line, prefixDel)})
			i++
			continue
		case strings.HasPrefix(line, prefixUpd):
			op := fileOp{kind: "update", path: strings.TrimPrefix(line, prefixUpd)}
			i++
			if i < len(lines) && strings.HasPrefix(lines[i], prefixMove) {
				op.moveTo = strings.TrimPrefix(lines[i], prefixMove)
				i++
			}
			hunks, next, err := parseHunks(lines, i)
			if err != nil {
				return nil, fmt.Errorf("file %s: %w", op.path, err)
			}
			op.hunks = hunks
			i = next
			ops = append(ops, op)
			continue
		default:
			if strings.TrimSpace(line) == "" {
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected line %d: %q", i+1, line)
		}
	}
	return nil, fmt.Errorf("patch missing %q", patchEnd)
}

func parseHunks(lines []string, i int) ([]hunk, int, error) {
	var hunks []hunk
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == patchEnd || strings.HasPrefix(lines[i], prefixAdd) || strings.HasPrefix(lines[i], prefixDel) || strings.HasPrefix(lines[i], prefixUpd) {
			return hunks, i, nil
		}
		if strings.HasPrefix(lines[i], "@@") {
			i++
			continue
		}
		var h hunk
		for i < len(lines) {
			line := lines[i]
			if len(line) == 0 {
				break
			}
			op := line[0]
			if op != ' ' && op != '+' && op != '-' {
				break
			}
			h.lines = append(h.lines, hunkLine{op: op, text: line[1:]})
			i++
		}
		if len(h.lines) > 0 {
			hunks = append(hunks, h)
		} else {
			i++
		}
	}
	return hunks, i, nil
}

// applyHunksToContent applies hunks to content's lines in order, locating
// each hunk's context+removed block by exact text search and splicing in
// the context+added block in its place.
func applyHunksToContent(content string, hunks []hunk) (string, error) {
	lines := strings.Split(content, "\n")
	for _, h := range hunks {
		var before, after []string
		for _, hl := range h.lines {
			switch hl.op {
			case ' ':
				before = append(before, hl.text)
				after = append(after, hl.text)
			case '-':
				before = append(before, hl.text)
			case '+':
				after = append(after, hl.text)
			}
		}
		idx := indexOfSlice(lines, before)
		if idx < 0 {
			return "", fmt.Errorf("context not found for hunk: %q", strings.Join(before, "\\n"))
		}
		out := make([]string, 0, len(lines)-len(before)+len(after))
		out = append(out, lines[:idx]...)
		out = append(out, after...)
		out = append(out, lines[idx+len(before):]...)
		lines = out
	}
	return strings.Join(lines, "\n"), nil
}

func indexOfSlice(haystack, needle []string) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ApplyPatchRuntime applies a textual patch directly against the
// filesystem. Grounded on the reference ApplyPatchRuntime::run, which
// applies in-process whenever there is no sandbox attempt in play — the
// common case; this runtime always runs in-process, since a patch is pure
// filesystem mutation rather than an external command worth spawning a
// subprocess for.
type ApplyPatchRuntime struct {
	Cwd string
}

func (r *ApplyPatchRuntime) Name() string { return "apply_patch" }

func (r *ApplyPatchRuntime) ApprovalRequirement(req protocol.ToolCallRequest, policy protocol.AskForApproval, sandboxPolicy protocol.SandboxPolicy) orchestrator.ApprovalRequirement {
	if policy == protocol.ApprovalNever {
		return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalSkip}
	}
	return orchestrator.ApprovalRequirement{Kind: orchestrator.ApprovalNeedsApproval, Reason: "apply_patch modifies files on disk"}
}

func (r *ApplyPatchRuntime) SandboxPreference() sandbox.SandboxPreference { return sandbox.PreferenceForbid }
func (r *ApplyPatchRuntime) SandboxOverrideForFirstAttempt(protocol.ToolCallRequest) orchestrator.SandboxOverride {
	return orchestrator.BypassSandboxFirstAttempt
}
func (r *ApplyPatchRuntime) EscalateOnFailure() bool { return false }

// Run implements orchestrator.Runtime. req.Arguments must decode to
// {"patch": string}.
func (r *ApplyPatchRuntime) Run(_ context.Context, req protocol.ToolCallRequest, _ orchestrator.Attempt) (protocol.ToolCallResult, error) {
	var args struct {
		Patch string `json:"patch"`
	}
	if err := decodeArgs(req.Arguments, &args); err != nil {
		return protocol.ToolCallResult{Success: false, Output: err.Error()}, nil
	}

	ops, err := ParsePatch(args.Patch)
	if err != nil {
		return protocol.ToolCallResult{Success: false, Output: "invalid patch: " + err.Error()}, nil
	}

	cwd := r.Cwd
	if req.Workdir != "" {
		cwd = req.Workdir
	}

	var summary strings.Builder
	for _, op := range ops {
		absPath := filepath.Join(cwd, op.path)
		switch op.kind {
		case "add":
			if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
				return failOutput(summary, err)
			}
			if err := os.WriteFile(absPath, []byte(op.content), 0o600); err != nil {
				return failOutput(summary, err)
			}
			fmt.Fprintf(&summary, "Added %s\n", op.path)
		case "delete":
			if err := os.Remove(absPath); err != nil {
				return failOutput(summary, err)
			}
			fmt.Fprintf(&summary, "Deleted %s\n", op.path)
		case "update":
			before, err := os.ReadFile(absPath)
			if err != nil {
				return failOutput(summary, err)
			}
			after, err := applyHunksToContent(string(before), op.hunks)
			if err != nil {
				return failOutput(summary, err)
			}
			target := absPath
			if op.moveTo != "" {
				target = filepath.Join(cwd, op.moveTo)
				if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
					return failOutput(summary, err)
				}
			}
			if err := os.WriteFile(target, []byte(after), 0o600); err != nil {
				return failOutput(summary, err)
			}
			if op.moveTo != "" && target != absPath {
				os.Remove(absPath)
			}
			fmt.Fprintf(&summary, "Updated %s\n%s", op.path, unifiedDiff(op.path, string(before), after))
		}
	}
	return protocol.ToolCallResult{Success: true, Output: summary.String()}, nil
}

func failOutput(summary strings.Builder, err error) (protocol.ToolCallResult, error) {
	summary.WriteString(err.Error())
	return protocol.ToolCallResult{Success: false, Output: summary.String()}, nil
}

// unifiedDiff renders a unified diff between before and after for the
// tool result text, the way the teacher's editor preview does for a
// pending edit (tui/messages.go), repurposed here from an editor-save
// preview into an apply_patch result summary.
func unifiedDiff(path, before, after string) string {
	uri := span.URIFromPath(path)
	edits := myers.ComputeEdits(uri, before, after)
	if len(edits) == 0 {
		return ""
	}
	return fmt.Sprint(gotextdiff.ToUnified(path, path, before, edits))
}
