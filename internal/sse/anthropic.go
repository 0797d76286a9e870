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

type anthropicContentBlockStart struct {
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type anthropicContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type anthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

type anthropicMessageStart struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicMessageDelta struct {
	Usage anthropicUsage `json:"usage"`
}

// anthropicBlockTracker maps Anthropic content-block indices onto the
// uniform ItemID the rest of the engine uses.
type anthropicBlockTracker struct {
	blockIsToolUse map[int]bool
	blockCallID    map[int]string
}

func newAnthropicBlockTracker() *anthropicBlockTracker {
	return &anthropicBlockTracker{blockIsToolUse: map[int]bool{}, blockCallID: map[int]string{}}
}

// AnthropicDecoder decodes the Anthropic Messages SSE dialect:
//
//	event: message_start / content_block_start / content_block_delta /
//	       content_block_stop / message_delta / message_stop / ping
//	data: { JSON payload }
//
// This is a bonus third dialect beyond the two the engine's Tool ABI
// requires, kept reachable through the same sse.Decoder interface.
type AnthropicDecoder struct{}

func (AnthropicDecoder) Decode(ctx context.Context, body io.Reader, ch chan<- protocol.ResponseEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	bt := newAnthropicBlockTracker()
	var currentEventType string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			currentEventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEventType {
		case "message_stop":
			trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
			return
		case "content_block_start":
			if !bt.handleBlockStart(ctx, ch, data) {
				return
			}
		case "content_block_delta":
			if !bt.handleBlockDelta(ctx, ch, data) {
				return
			}
		case "message_start":
			handleAnthropicMessageStart(ctx, ch, data)
		case "message_delta":
			handleAnthropicMessageDelta(ctx, ch, data)
		case "ping", "content_block_stop":
			// ignored
		}
		currentEventType = ""
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventFailed, Err: err})
		return
	}
	trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
}

func (bt *anthropicBlockTracker) handleBlockStart(ctx context.Context, ch chan<- protocol.ResponseEvent, data string) bool {
	var evt anthropicContentBlockStart
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		log.Warn().Err(err).Msg("failed to parse anthropic content_block_start")
		return true
	}
	if evt.ContentBlock.Type != "tool_use" {
		return true
	}
	bt.blockIsToolUse[evt.Index] = true
	bt.blockCallID[evt.Index] = evt.ContentBlock.ID
	fc := protocol.FunctionCall{CallID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name}
	return trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputItemAdded, ItemID: evt.ContentBlock.ID, Item: fc})
}

func (bt *anthropicBlockTracker) handleBlockDelta(ctx context.Context, ch chan<- protocol.ResponseEvent, data string) bool {
	var evt anthropicContentBlockDelta
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		log.Warn().Err(err).Msg("failed to parse anthropic content_block_delta")
		return true
	}
	switch evt.Delta.Type {
	case "text_delta":
		if evt.Delta.Text != "" {
			return trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputTextDelta, Delta: evt.Delta.Text})
		}
	case "thinking_delta":
		if evt.Delta.Thinking != "" {
			return trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventReasoningDelta, Delta: evt.Delta.Thinking})
		}
	case "input_json_delta":
		if evt.Delta.PartialJSON != "" && bt.blockIsToolUse[evt.Index] {
			return trySend(ctx, ch, protocol.ResponseEvent{
				Type:   protocol.EventFunctionArgsDelta,
				ItemID: bt.blockCallID[evt.Index],
				Delta:  evt.Delta.PartialJSON,
			})
		}
	}
	return true
}

func handleAnthropicMessageStart(ctx context.Context, ch chan<- protocol.ResponseEvent, data string) {
	var ms anthropicMessageStart
	if err := json.Unmarshal([]byte(data), &ms); err != nil {
		return
	}
	u := ms.Message.Usage
	if u.InputTokens > 0 || u.OutputTokens > 0 {
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventUsage, Usage: &protocol.TokenUsage{
			InputTokens: u.InputTokens, CachedInputTokens: u.CacheReadInputTokens, OutputTokens: u.OutputTokens,
		}})
	}
}

func handleAnthropicMessageDelta(ctx context.Context, ch chan<- protocol.ResponseEvent, data string) {
	var md anthropicMessageDelta
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return
	}
	if md.Usage.OutputTokens > 0 {
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventUsage, Usage: &protocol.TokenUsage{OutputTokens: md.Usage.OutputTokens}})
	}
}
