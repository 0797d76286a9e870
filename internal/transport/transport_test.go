package transport

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sse"
)

func sampleConversation() []protocol.ConversationItem {
	return []protocol.ConversationItem{
		protocol.UserMessage{Content: []protocol.ContentPart{{Type: "text", Text: "list files"}}},
		protocol.FunctionCall{CallID: "call1", Name: "shell", Arguments: json.RawMessage(`{"command":["ls"]}`)},
		protocol.FunctionCallOutput{CallID: "call1", Output: "a.txt\nb.txt"},
		protocol.AssistantMessage{Content: []protocol.ContentPart{{Type: "text", Text: "found two files"}}},
	}
}

func sampleTools() []protocol.ToolDef {
	return []protocol.ToolDef{{Name: "shell", Description: "run a shell command", InputSchema: json.RawMessage(`{"type":"object"}`)}}
}

func TestBuildRequestResponsesDialect(t *testing.T) {
	tr := New(Endpoint{Name: "openai", BaseURL: "https://api.openai.com/v1", APIKey: "sk-test", Dialect: DialectResponses, Model: "gpt-5"}, nil)
	req := tr.BuildRequest(sampleConversation(), sampleTools())

	if req.URL != "https://api.openai.com/v1/responses" {
		t.Fatalf("unexpected URL: %s", req.URL)
	}
	if req.Headers["Authorization"] != "Bearer sk-test" {
		t.Fatalf("expected bearer auth header, got %+v", req.Headers)
	}
	if _, ok := req.Decoder.(sse.ResponsesDecoder); !ok {
		t.Fatalf("expected ResponsesDecoder, got %T", req.Decoder)
	}

	var decoded responsesRequest
	if err := json.Unmarshal(req.Body, &decoded); err != nil {
		t.Fatalf("request body did not decode: %v", err)
	}
	if decoded.Model != "gpt-5" || !decoded.Stream {
		t.Fatalf("unexpected request fields: %+v", decoded)
	}
	if len(decoded.Input) != 4 {
		t.Fatalf("expected 4 input items (user, call, output, assistant), got %d: %+v", len(decoded.Input), decoded.Input)
	}
	if decoded.Input[1].Type != "function_call" || decoded.Input[1].CallID != "call1" {
		t.Fatalf("expected function_call item, got %+v", decoded.Input[1])
	}
	if decoded.Input[2].Type != "function_call_output" || decoded.Input[2].Output != "a.txt\nb.txt" {
		t.Fatalf("expected function_call_output item, got %+v", decoded.Input[2])
	}
	if len(decoded.Tools) != 1 || decoded.Tools[0].Name != "shell" {
		t.Fatalf("expected shell tool advertised, got %+v", decoded.Tools)
	}
}

func TestBuildRequestChatCompletionsDialect(t *testing.T) {
	tr := New(Endpoint{Name: "vllm", BaseURL: "http://localhost:8000/v1", Dialect: DialectChatCompletions, Model: "llama"}, nil)
	req := tr.BuildRequest(sampleConversation(), sampleTools())

	if !strings.HasSuffix(req.URL, "/chat/completions") {
		t.Fatalf("unexpected URL: %s", req.URL)
	}
	if _, ok := req.Decoder.(sse.ChatCompletionsDecoder); !ok {
		t.Fatalf("expected ChatCompletionsDecoder, got %T", req.Decoder)
	}

	var decoded chatRequest
	if err := json.Unmarshal(req.Body, &decoded); err != nil {
		t.Fatalf("request body did not decode: %v", err)
	}
	var sawToolCall, sawToolResult bool
	for _, m := range decoded.Messages {
		if m.Role == "assistant" && len(m.ToolCalls) == 1 && m.ToolCalls[0].ID == "call1" {
			sawToolCall = true
		}
		if m.Role == "tool" && m.ToolCallID == "call1" && m.Content == "a.txt\nb.txt" {
			sawToolResult = true
		}
	}
	if !sawToolCall || !sawToolResult {
		t.Fatalf("expected tool call and tool result messages, got %+v", decoded.Messages)
	}
}

func TestBuildRequestAnthropicDialect(t *testing.T) {
	tr := New(Endpoint{Name: "anthropic", BaseURL: "https://api.anthropic.com", APIKey: "sk-ant-test", Dialect: DialectAnthropic, Model: "claude"}, nil)
	req := tr.BuildRequest(sampleConversation(), sampleTools())

	if req.Headers["x-api-key"] != "sk-ant-test" {
		t.Fatalf("expected x-api-key header, got %+v", req.Headers)
	}
	if req.Headers["anthropic-version"] == "" {
		t.Fatal("expected a default anthropic-version header")
	}
	if _, ok := req.Headers["Authorization"]; ok {
		t.Fatal("anthropic dialect should not set a bearer Authorization header")
	}

	var decoded anthropicRequest
	if err := json.Unmarshal(req.Body, &decoded); err != nil {
		t.Fatalf("request body did not decode: %v", err)
	}
	if decoded.MaxTokens <= 0 {
		t.Fatalf("expected a default max_tokens, got %d", decoded.MaxTokens)
	}
	if len(decoded.Messages) == 0 {
		t.Fatal("expected at least one message")
	}
}

func TestBuildRequestTrimsTrailingSlashFromBaseURL(t *testing.T) {
	tr := New(Endpoint{BaseURL: "https://example.com/v1/", Dialect: DialectResponses, Model: "m"}, nil)
	req := tr.BuildRequest(nil, nil)
	if req.URL != "https://example.com/v1/responses" {
		t.Fatalf("expected trailing slash trimmed before appending path, got %s", req.URL)
	}
}

func TestBuildRequestOmitsAuthorizationWithNoAPIKey(t *testing.T) {
	tr := New(Endpoint{BaseURL: "http://localhost:11434/v1", Dialect: DialectChatCompletions, Model: "m"}, nil)
	req := tr.BuildRequest(nil, nil)
	if _, ok := req.Headers["Authorization"]; ok {
		t.Fatal("expected no Authorization header when APIKey is empty")
	}
}
