package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/turnengine/internal/protocol"
)

type chatCompletionStreamResponse struct {
	Choices []chatCompletionStreamChoice `json:"choices"`
	Usage   *chatCompletionUsage         `json:"usage,omitempty"`
}

type chatCompletionUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type chatCompletionStreamChoice struct {
	Delta        chatCompletionStreamDelta `json:"delta"`
	FinishReason *string                   `json:"finish_reason"`
}

type chatCompletionStreamDelta struct {
	Role      string                   `json:"role,omitempty"`
	Content   string                   `json:"content,omitempty"`
	Reasoning string                   `json:"reasoning,omitempty"`
	ToolCalls []chatCompletionToolCall `json:"tool_calls,omitempty"`
}

type chatCompletionToolCall struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id"`
	Function chatCompletionFunction `json:"function"`
}

type chatCompletionFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionsDecoder decodes the Chat-Completions SSE dialect: untyped
// `data: {...}` lines carrying incremental deltas, terminated by `data: [DONE]`.
type ChatCompletionsDecoder struct{}

func (ChatCompletionsDecoder) Decode(ctx context.Context, body io.Reader, ch chan<- protocol.ResponseEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	tracker := map[int]string{} // tool-call index -> item id (call_id)
	var sawToolCall bool

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
			return
		}

		var chunk chatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Str("data", data).Msg("failed to parse chat completion chunk")
			continue
		}

		var usage *protocol.TokenUsage
		if chunk.Usage != nil {
			usage = &protocol.TokenUsage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens,
			}
		}

		if len(chunk.Choices) == 0 {
			if usage != nil {
				trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted, Usage: usage})
			}
			continue
		}

		choice := chunk.Choices[0]
		if !emitChatDelta(ctx, ch, choice.Delta, tracker) {
			return
		}
		if len(choice.Delta.ToolCalls) > 0 {
			sawToolCall = true
		}

		// Per the resolved Open Question: any terminal finish_reason with an
		// active tool-call accumulator is treated as a tool-call completion,
		// not only "tool_calls" literally.
		if choice.FinishReason != nil {
			trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted, Usage: usage})
			_ = sawToolCall
			return
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventFailed, Err: err})
		return
	}
	trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
}

func emitChatDelta(ctx context.Context, ch chan<- protocol.ResponseEvent, delta chatCompletionStreamDelta, tracker map[int]string) bool {
	if delta.Reasoning != "" {
		if !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventReasoningDelta, Delta: delta.Reasoning}) {
			return false
		}
	}
	if delta.Content != "" {
		if !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputTextDelta, Delta: delta.Content}) {
			return false
		}
	}
	for _, tc := range delta.ToolCalls {
		if tc.Function.Name != "" {
			id := tc.ID
			if id == "" {
				id = tracker[tc.Index]
			}
			tracker[tc.Index] = id
			fc := protocol.FunctionCall{CallID: id, Name: tc.Function.Name}
			if !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputItemAdded, ItemID: id, Item: fc}) {
				return false
			}
		}
		if tc.Function.Arguments != "" {
			id := tracker[tc.Index]
			if !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventFunctionArgsDelta, ItemID: id, Delta: tc.Function.Arguments}) {
				return false
			}
		}
	}
	return true
}
