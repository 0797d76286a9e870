// Package protocol defines the data model shared by every component of the
// turn execution engine: conversation items, response events, token usage,
// sandbox policy, and tool ABI shapes.
package protocol

import "encoding/json"

// ItemKind identifies the concrete type of a ConversationItem.
type ItemKind string

const (
	KindUserMessage          ItemKind = "user_message"
	KindAssistantMessage     ItemKind = "assistant_message"
	KindReasoning            ItemKind = "reasoning"
	KindFunctionCall         ItemKind = "function_call"
	KindFunctionCallOutput   ItemKind = "function_call_output"
	KindCustomToolCall       ItemKind = "custom_tool_call"
	KindCustomToolCallOutput ItemKind = "custom_tool_call_output"
	KindLocalShellCall       ItemKind = "local_shell_call"
	KindWebSearchCall        ItemKind = "web_search_call"
)

// ConversationItem is the closed sum type stored by the history component.
// Every concrete item below implements it; type switches over Kind() are
// exhaustive by construction rather than by an open interface hierarchy.
type ConversationItem interface {
	Kind() ItemKind
}

// Role is the role attached to a message-shaped item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentPart is one piece of a message's content (text or typed block).
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UserMessage is a user-authored turn input.
type UserMessage struct {
	Content []ContentPart `json:"content"`
}

func (UserMessage) Kind() ItemKind { return KindUserMessage }

// AssistantMessage is model-authored visible output.
type AssistantMessage struct {
	Content []ContentPart `json:"content"`
}

func (AssistantMessage) Kind() ItemKind { return KindAssistantMessage }

// ReasoningItem carries a model's hidden reasoning trace, when the provider
// exposes one. Never shown to the user, but kept in history for providers
// that require it to be echoed back on the next turn.
type ReasoningItem struct {
	EncryptedContent string `json:"encrypted_content,omitempty"`
	Summary          string `json:"summary,omitempty"`
}

func (ReasoningItem) Kind() ItemKind { return KindReasoning }

// FunctionCall is a model-requested tool invocation.
type FunctionCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (FunctionCall) Kind() ItemKind { return KindFunctionCall }

// FunctionCallOutput is the result recorded against a FunctionCall's CallID.
type FunctionCallOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
	// Aborted is true when this output was synthesized because the turn was
	// interrupted before the real tool result arrived.
	Aborted bool `json:"aborted,omitempty"`
}

func (FunctionCallOutput) Kind() ItemKind { return KindFunctionCallOutput }

// CustomToolCall is a freeform (non-JSON-schema) tool invocation, used by
// providers whose tool-call wire shape carries a raw string payload instead
// of structured arguments (e.g. apply_patch's literal patch text).
type CustomToolCall struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
}

func (CustomToolCall) Kind() ItemKind { return KindCustomToolCall }

// CustomToolCallOutput pairs with a CustomToolCall by CallID.
type CustomToolCallOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func (CustomToolCallOutput) Kind() ItemKind { return KindCustomToolCallOutput }

// LocalShellCall is the provider-native "local shell" tool-call shape used
// by Responses-dialect models that have a first-class shell tool.
type LocalShellCall struct {
	CallID  string   `json:"call_id"`
	Command []string `json:"command"`
	Workdir string   `json:"workdir,omitempty"`
}

func (LocalShellCall) Kind() ItemKind { return KindLocalShellCall }

// WebSearchCall records a provider-native web search invocation.
type WebSearchCall struct {
	CallID string `json:"call_id"`
	Query  string `json:"query"`
}

func (WebSearchCall) Kind() ItemKind { return KindWebSearchCall }
