// Package transport is the one concrete HTTP implementation the engine
// speaks over: it turns a protocol.ConversationItem prompt and a
// protocol.ToolDef list into an outbound request body for a given
// provider dialect, and wires that body into a respstream.Request ready
// for respstream.Stream. This is the "external collaborator" SPEC_FULL.md
// names — cmd/turnengine and tests are its only callers; internal/turn
// never imports net/http directly.
//
// Endpoint construction and the Responses-dialect request encoding are
// adapted from internal/provider's per-provider factories (ollama.go,
// vllm.go, zen.go, anthropic.go) and openai_common.go's
// toResponsesInput/toResponsesTools, generalized from provider.Message to
// protocol.ConversationItem.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/respstream"
	"github.com/xonecas/turnengine/internal/sse"
)

// Dialect selects which wire format Endpoint speaks.
type Dialect string

const (
	DialectResponses       Dialect = "responses"
	DialectChatCompletions Dialect = "chat_completions"
	DialectAnthropic       Dialect = "anthropic"
)

// Endpoint describes one provider connection: where to send requests, how
// to authenticate, and which dialect to speak — generalizing the
// teacher's OllamaFactory/VLLMProvider/ZenProvider construction
// parameters into one provider-agnostic shape.
type Endpoint struct {
	Name        string
	BaseURL     string
	APIKey      string
	Dialect     Dialect
	Model       string
	Temperature float64
	MaxTokens   int
	// ExtraHeaders covers provider quirks the common Authorization/
	// Content-Type pair doesn't (e.g. Anthropic's anthropic-version).
	ExtraHeaders map[string]string
}

// defaultHTTPClient builds the client New uses when the caller passes nil;
// the teacher constructs one *http.Client per provider instance
// (ollama.go's NewOllamaWithTemp) — New likewise builds one per Transport
// unless the caller supplies its own.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 0} // streaming responses: no fixed deadline, rely on respstream's idle watchdog
}

// Transport builds respstream.Request values for one Endpoint.
type Transport struct {
	Endpoint Endpoint
	Client   *http.Client
}

// New constructs a Transport for endpoint, using client if non-nil or a
// streaming-safe default otherwise.
func New(endpoint Endpoint, client *http.Client) *Transport {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Transport{Endpoint: endpoint, Client: client}
}

// BuildRequest implements turn.RequestBuilder: encode ctx/tools into this
// endpoint's wire dialect and wrap it in a respstream.Request.
func (t *Transport) BuildRequest(ctx []protocol.ConversationItem, tools []protocol.ToolDef) respstream.Request {
	body, path, decoder := t.encode(ctx, tools)

	headers := map[string]string{}
	for k, v := range t.Endpoint.ExtraHeaders {
		headers[k] = v
	}
	switch t.Endpoint.Dialect {
	case DialectAnthropic:
		headers["x-api-key"] = t.Endpoint.APIKey
		if headers["anthropic-version"] == "" {
			headers["anthropic-version"] = "2023-06-01"
		}
	default:
		if t.Endpoint.APIKey != "" {
			headers["Authorization"] = "Bearer " + t.Endpoint.APIKey
		}
	}

	return respstream.Request{
		Client:      t.Client,
		Method:      http.MethodPost,
		URL:         strings.TrimRight(t.Endpoint.BaseURL, "/") + path,
		Body:        body,
		Headers:     headers,
		Decoder:     decoder,
		IdleTimeout: 90 * time.Second,
		Provider:    t.Endpoint.Name,
		Model:       t.Endpoint.Model,
	}
}

func (t *Transport) encode(ctx []protocol.ConversationItem, tools []protocol.ToolDef) ([]byte, string, sse.Decoder) {
	switch t.Endpoint.Dialect {
	case DialectAnthropic:
		return t.encodeAnthropic(ctx, tools), "/v1/messages", sse.AnthropicDecoder{}
	case DialectChatCompletions:
		return t.encodeChatCompletions(ctx, tools), "/chat/completions", sse.ChatCompletionsDecoder{}
	default:
		return t.encodeResponses(ctx, tools), "/responses", sse.ResponsesDecoder{}
	}
}

// --- Responses dialect, adapted from openai_common.go's responsesRequest/
// toResponsesInput/toResponsesTools ---

type responsesRequest struct {
	Model       string               `json:"model"`
	Input       []responsesInputItem `json:"input"`
	Tools       []responsesToolParam `json:"tools,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	Stream      bool                 `json:"stream"`
}

type responsesInputItem struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   any    `json:"content,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Output    string `json:"output,omitempty"`
}

type responsesToolParam struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (t *Transport) encodeResponses(ctx []protocol.ConversationItem, tools []protocol.ToolDef) []byte {
	req := responsesRequest{
		Model:  t.Endpoint.Model,
		Input:  toResponsesInput(ctx),
		Tools:  toResponsesTools(tools),
		Stream: true,
	}
	if t.Endpoint.Temperature > 0 {
		temp := t.Endpoint.Temperature
		req.Temperature = &temp
	}
	body, _ := json.Marshal(req)
	return body
}

func toResponsesInput(ctx []protocol.ConversationItem) []responsesInputItem {
	var items []responsesInputItem
	for _, item := range ctx {
		switch v := item.(type) {
		case protocol.UserMessage:
			items = append(items, responsesInputItem{Type: "message", Role: "user", Content: textOf(v.Content)})
		case protocol.AssistantMessage:
			if text := textOf(v.Content); text != "" {
				items = append(items, responsesInputItem{Type: "message", Role: "assistant", Content: text})
			}
		case protocol.FunctionCall:
			items = append(items, responsesInputItem{Type: "function_call", CallID: v.CallID, Name: v.Name, Arguments: string(v.Arguments)})
		case protocol.FunctionCallOutput:
			items = append(items, responsesInputItem{Type: "function_call_output", CallID: v.CallID, Output: v.Output})
		case protocol.CustomToolCallOutput:
			items = append(items, responsesInputItem{Type: "function_call_output", CallID: v.CallID, Output: v.Output})
		}
	}
	return items
}

func toResponsesTools(tools []protocol.ToolDef) []responsesToolParam {
	if tools == nil {
		return nil
	}
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	out := make([]responsesToolParam, len(tools))
	for i, td := range tools {
		params := td.InputSchema
		if len(params) == 0 {
			params = emptyParams
		}
		out[i] = responsesToolParam{Type: "function", Name: td.Name, Description: td.Description, Parameters: params}
	}
	return out
}

// --- Chat Completions dialect, adapted from openai_common.go's
// toOpenAIMessages/toOpenAITools, inlined here without the go-openai
// struct dependency since the wire shape is small and stable. ---

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []chatMessage  `json:"messages"`
	Tools       []chatTool     `json:"tools,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
	Stream      bool           `json:"stream"`
	StreamOpts  *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (t *Transport) encodeChatCompletions(ctx []protocol.ConversationItem, tools []protocol.ToolDef) []byte {
	req := chatRequest{
		Model:       t.Endpoint.Model,
		Messages:    toChatMessages(ctx),
		Tools:       toChatTools(tools),
		Temperature: t.Endpoint.Temperature,
		Stream:      true,
		StreamOpts:  &streamOptions{IncludeUsage: true},
	}
	body, _ := json.Marshal(req)
	return body
}

func toChatMessages(ctx []protocol.ConversationItem) []chatMessage {
	var pendingCalls []chatToolCall
	var out []chatMessage
	flush := func() {
		if len(pendingCalls) > 0 {
			out = append(out, chatMessage{Role: "assistant", ToolCalls: pendingCalls})
			pendingCalls = nil
		}
	}
	for _, item := range ctx {
		switch v := item.(type) {
		case protocol.UserMessage:
			flush()
			out = append(out, chatMessage{Role: "user", Content: textOf(v.Content)})
		case protocol.AssistantMessage:
			flush()
			if text := textOf(v.Content); text != "" {
				out = append(out, chatMessage{Role: "assistant", Content: text})
			}
		case protocol.FunctionCall:
			pendingCalls = append(pendingCalls, chatToolCall{
				ID: v.CallID, Type: "function",
				Function: chatToolFunction{Name: v.Name, Arguments: string(v.Arguments)},
			})
		case protocol.FunctionCallOutput:
			flush()
			out = append(out, chatMessage{Role: "tool", ToolCallID: v.CallID, Content: v.Output})
		case protocol.CustomToolCallOutput:
			flush()
			out = append(out, chatMessage{Role: "tool", ToolCallID: v.CallID, Content: v.Output})
		}
	}
	flush()
	return out
}

func toChatTools(tools []protocol.ToolDef) []chatTool {
	if tools == nil {
		return nil
	}
	out := make([]chatTool, len(tools))
	for i, td := range tools {
		out[i] = chatTool{Type: "function", Function: chatFunction{Name: td.Name, Description: td.Description, Parameters: td.InputSchema}}
	}
	return out
}

// --- Anthropic Messages dialect, adapted from provider/anthropic.go's
// anthropicRequest/anthropicMessage/anthropicTextBlock family. ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func (t *Transport) encodeAnthropic(ctx []protocol.ConversationItem, tools []protocol.ToolDef) []byte {
	maxTokens := t.Endpoint.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	req := anthropicRequest{
		Model:     t.Endpoint.Model,
		Messages:  toAnthropicMessages(ctx),
		MaxTokens: maxTokens,
		Stream:    true,
		Tools:     toAnthropicTools(tools),
	}
	body, _ := json.Marshal(req)
	return body
}

func toAnthropicMessages(ctx []protocol.ConversationItem) []anthropicMessage {
	var out []anthropicMessage
	var pendingBlocks []any
	role := ""
	flush := func() {
		if len(pendingBlocks) > 0 {
			out = append(out, anthropicMessage{Role: role, Content: pendingBlocks})
			pendingBlocks = nil
		}
	}
	for _, item := range ctx {
		switch v := item.(type) {
		case protocol.UserMessage:
			flush()
			out = append(out, anthropicMessage{Role: "user", Content: textOf(v.Content)})
		case protocol.AssistantMessage:
			flush()
			if text := textOf(v.Content); text != "" {
				out = append(out, anthropicMessage{Role: "assistant", Content: text})
			}
		case protocol.FunctionCall:
			if role != "assistant" {
				flush()
				role = "assistant"
			}
			pendingBlocks = append(pendingBlocks, anthropicToolUseBlock{Type: "tool_use", ID: v.CallID, Name: v.Name, Input: v.Arguments})
		case protocol.FunctionCallOutput:
			if role != "user" {
				flush()
				role = "user"
			}
			pendingBlocks = append(pendingBlocks, anthropicToolResultBlock{Type: "tool_result", ToolUseID: v.CallID, Content: v.Output})
		case protocol.CustomToolCallOutput:
			if role != "user" {
				flush()
				role = "user"
			}
			pendingBlocks = append(pendingBlocks, anthropicToolResultBlock{Type: "tool_result", ToolUseID: v.CallID, Content: v.Output})
		}
	}
	flush()
	return out
}

func toAnthropicTools(tools []protocol.ToolDef) []anthropicTool {
	if tools == nil {
		return nil
	}
	out := make([]anthropicTool, len(tools))
	for i, td := range tools {
		out[i] = anthropicTool{Name: td.Name, Description: td.Description, InputSchema: td.InputSchema}
	}
	return out
}

func textOf(parts []protocol.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
