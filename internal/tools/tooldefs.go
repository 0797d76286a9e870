package tools

import (
	"encoding/json"

	"github.com/xonecas/turnengine/internal/protocol"
)

// ToolDefs returns the tool list advertised to the provider for every
// runtime registered in this package, generalizing mcptools's per-tool
// NewXTool() constructors (e.g. NewShellTool) from the mcp.Tool shape to
// protocol.ToolDef.
func ToolDefs() []protocol.ToolDef {
	return []protocol.ToolDef{
		shellToolDef(),
		applyPatchToolDef(),
		unifiedExecToolDef(),
		collabToolDef(),
	}
}

func shellToolDef() protocol.ToolDef {
	return protocol.ToolDef{
		Name: "shell",
		Description: `Execute a shell command. Runs under whatever sandbox placement and
approval policy the current session enforces; escalate with
with_escalated_permissions when a command has already been denied by the
sandbox and genuinely needs broader access.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "array", "items": {"type": "string"}, "description": "argv to execute"},
				"workdir": {"type": "string", "description": "working directory, default is the turn's cwd"},
				"timeout_ms": {"type": "integer", "description": "kill the command after this many milliseconds"},
				"with_escalated_permissions": {"type": "boolean", "description": "request a sandbox bypass for this call"},
				"justification": {"type": "string", "description": "required when with_escalated_permissions is true"}
			},
			"required": ["command"]
		}`),
	}
}

func applyPatchToolDef() protocol.ToolDef {
	return protocol.ToolDef{
		Name:        "apply_patch",
		Description: "Apply a patch (in the apply_patch envelope format) directly to the filesystem.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"patch": {"type": "string", "description": "the full *** Begin Patch .. *** End Patch envelope"}
			},
			"required": ["patch"]
		}`),
	}
}

func unifiedExecToolDef() protocol.ToolDef {
	return protocol.ToolDef{
		Name: "unified_exec",
		Description: `Start or drive an interactive shell session. Pass cmd to start a new
session, or session_id plus chars to write to an existing one. Returns
whatever output the session produces within yield_time_ms.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"cmd": {"type": "string", "description": "command to start a new session with"},
				"session_id": {"description": "id of an existing session to write to"},
				"chars": {"type": "string", "description": "characters to write to the session"},
				"yield_time_ms": {"type": "integer", "description": "how long to wait for output before returning"},
				"shell": {"type": "string", "description": "shell to launch, default sh"},
				"login": {"type": "boolean", "description": "start the shell as a login shell"},
				"cwd": {"type": "string", "description": "working directory for a new session"}
			}
		}`),
	}
}

func collabToolDef() protocol.ToolDef {
	return protocol.ToolDef{
		Name: "collab",
		Description: `Spawn and coordinate sub-agents within this session. action is one of
spawn, send, wait, close, list.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["spawn", "send", "wait", "close", "list"]},
				"agent_id": {"type": "integer"},
				"parent_agent_id": {"type": "integer"},
				"name": {"type": "string"},
				"instructions": {"type": "string"},
				"prompt": {"type": "string"}
			},
			"required": ["action"]
		}`),
	}
}
