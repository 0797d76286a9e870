// Package sse decodes Server-Sent Event streams from the two provider wire
// dialects this engine speaks — the Responses dialect (typed `event:` lines)
// and the Chat Completions dialect (untyped `data:` deltas) — into the
// uniform protocol.ResponseEvent stream the Stream Aggregator consumes.
//
// A third, bonus decoder for the Anthropic Messages dialect is included in
// anthropic.go; all three implement the same Decoder interface.
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

// Decoder reads a raw SSE body and emits protocol.ResponseEvent values on
// ch until the stream ends, an unrecoverable decode error occurs, or ctx is
// cancelled. The caller owns closing the underlying reader.
type Decoder interface {
	Decode(ctx context.Context, body io.Reader, ch chan<- protocol.ResponseEvent)
}

func trySend(ctx context.Context, ch chan<- protocol.ResponseEvent, evt protocol.ResponseEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// responsesOutputTextDelta is one `response.output_text.delta` payload.
type responsesOutputTextDelta struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type responsesReasoningDelta struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type responsesOutputItemAdded struct {
	OutputIndex int `json:"output_index"`
	Item        struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item"`
}

// responsesOutputItemDone is one `response.output_item.done` payload. Item.Type
// selects which of the trailing fields are populated: "message" carries
// Content, "reasoning" carries Summary, "function_call" carries CallID/Name/
// Arguments.
type responsesOutputItemDone struct {
	Item struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Summary []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"summary"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"item"`
}

type responsesFuncCallArgsDelta struct {
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

type responsesUsage struct {
	InputTokens           int64 `json:"input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	OutputTokensDetails    *struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"output_tokens_details,omitempty"`
	InputTokensDetails *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"input_tokens_details,omitempty"`
}

type responsesCompleted struct {
	Response struct {
		Usage *responsesUsage `json:"usage"`
	} `json:"response"`
}

type responsesFailed struct {
	Response struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// ResponsesDecoder decodes the Responses-API SSE dialect:
//
//	event: response.output_text.delta
//	data: {"delta":"hello"}
type ResponsesDecoder struct{}

func (ResponsesDecoder) Decode(ctx context.Context, body io.Reader, ch chan<- protocol.ResponseEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

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
		if done, stop := handleResponsesEvent(ctx, ch, currentEventType, data); done || stop {
			return
		}
		currentEventType = ""
	}
	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventFailed, Err: err})
		return
	}
	trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
}

func handleResponsesEvent(ctx context.Context, ch chan<- protocol.ResponseEvent, eventType, data string) (done, stop bool) {
	switch eventType {
	case "response.output_text.delta":
		var evt responsesOutputTextDelta
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Warn().Err(err).Msg("failed to parse response.output_text.delta")
			return false, false
		}
		if evt.Delta == "" {
			return false, false
		}
		return false, !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputTextDelta, ItemID: evt.ItemID, Delta: evt.Delta})
	case "response.reasoning_summary_text.delta":
		var evt responsesReasoningDelta
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Warn().Err(err).Msg("failed to parse reasoning delta")
			return false, false
		}
		if evt.Delta == "" {
			return false, false
		}
		return false, !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventReasoningDelta, ItemID: evt.ItemID, Delta: evt.Delta})
	case "response.output_item.added":
		var evt responsesOutputItemAdded
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Warn().Err(err).Msg("failed to parse output_item.added")
			return false, false
		}
		if evt.Item.Type != "function_call" {
			return false, false
		}
		fc := protocol.FunctionCall{CallID: evt.Item.CallID, Name: evt.Item.Name}
		return false, !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputItemAdded, ItemID: evt.Item.ID, Item: fc})
	case "response.output_item.done":
		var evt responsesOutputItemDone
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Warn().Err(err).Msg("failed to parse output_item.done")
			return false, false
		}
		var item protocol.ConversationItem
		switch evt.Item.Type {
		case "message":
			parts := make([]protocol.ContentPart, 0, len(evt.Item.Content))
			for _, c := range evt.Item.Content {
				parts = append(parts, protocol.ContentPart{Type: c.Type, Text: c.Text})
			}
			item = protocol.AssistantMessage{Content: parts}
		case "reasoning":
			var summary strings.Builder
			for _, s := range evt.Item.Summary {
				summary.WriteString(s.Text)
			}
			item = protocol.ReasoningItem{Summary: summary.String()}
		case "function_call":
			item = protocol.FunctionCall{
				CallID:    evt.Item.CallID,
				Name:      evt.Item.Name,
				Arguments: json.RawMessage(evt.Item.Arguments),
			}
		default:
			return false, false
		}
		return false, !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventOutputItemDone, ItemID: evt.Item.ID, Item: item})
	case "response.function_call_arguments.delta":
		var evt responsesFuncCallArgsDelta
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Warn().Err(err).Msg("failed to parse function_call_arguments.delta")
			return false, false
		}
		if evt.Delta == "" {
			return false, false
		}
		return false, !trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventFunctionArgsDelta, ItemID: evt.ItemID, Delta: evt.Delta})
	case "response.completed":
		var evt responsesCompleted
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Warn().Err(err).Msg("failed to parse response.completed")
			trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
			return true, false
		}
		var usage *protocol.TokenUsage
		if evt.Response.Usage != nil {
			u := evt.Response.Usage
			usage = &protocol.TokenUsage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
			if u.OutputTokensDetails != nil {
				usage.ReasoningOutputTokens = u.OutputTokensDetails.ReasoningTokens
			}
			if u.InputTokensDetails != nil {
				usage.CachedInputTokens = u.InputTokensDetails.CachedTokens
			}
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		}
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted, Usage: usage})
		return true, false
	case "response.failed":
		var evt responsesFailed
		_ = json.Unmarshal([]byte(data), &evt)
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventFailed, Err: newDialectError(evt.Response.Error.Message)})
		return true, false
	case "response.incomplete":
		trySend(ctx, ch, protocol.ResponseEvent{Type: protocol.EventCompleted})
		return true, false
	}
	return false, false
}
