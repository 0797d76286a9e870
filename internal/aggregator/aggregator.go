// Package aggregator turns a raw protocol.ResponseEvent stream into
// completed conversation items, in one of two modes: Aggregated (suppress
// deltas, emit only the final concatenated item when the stream completes)
// or Streaming (forward every delta downstream, still emit the final
// aggregated item at completion so history always records whole items).
//
// This generalizes the turn loop's inline toolCallAccumulator/
// collectWithDeltas pair into a standalone, mode-aware component.
package aggregator

import (
	"encoding/json"

	"github.com/xonecas/turnengine/internal/protocol"
)

// Mode selects how the aggregator treats intermediate deltas.
type Mode int

const (
	// Aggregated suppresses delta events; only Completed carries content.
	Aggregated Mode = iota
	// Streaming forwards every delta to the Sink as it arrives.
	Streaming
)

// Sink receives the aggregator's output. Delta is only invoked in
// Streaming mode. Completed is always invoked exactly once at the end of a
// successful stream (even in Aggregated mode, where it carries everything).
type Sink interface {
	Delta(evt protocol.ResponseEvent)
	Completed(result Result)
	Failed(err error)
}

// Result is everything accumulated over one response stream.
type Result struct {
	Text      string
	Reasoning string
	ToolCalls []protocol.FunctionCall
	Usage     *protocol.TokenUsage
}

// toolCallAccumulator tracks function-call items as their arguments stream
// in, keyed by the ItemID the decoder assigned at OutputItemAdded.
type toolCallAccumulator struct {
	order       []string
	calls       map[string]protocol.FunctionCall
	argBuilders map[string]*[]byte
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:       map[string]protocol.FunctionCall{},
		argBuilders: map[string]*[]byte{},
	}
}

func (a *toolCallAccumulator) begin(itemID string, fc protocol.FunctionCall) {
	if _, exists := a.calls[itemID]; !exists {
		a.order = append(a.order, itemID)
	}
	a.calls[itemID] = fc
	buf := make([]byte, 0, 64)
	a.argBuilders[itemID] = &buf
}

func (a *toolCallAccumulator) delta(itemID, delta string) {
	buf, ok := a.argBuilders[itemID]
	if !ok {
		empty := make([]byte, 0, 64)
		buf = &empty
		a.argBuilders[itemID] = buf
	}
	*buf = append(*buf, delta...)
}

func (a *toolCallAccumulator) finalize() []protocol.FunctionCall {
	out := make([]protocol.FunctionCall, 0, len(a.order))
	for _, id := range a.order {
		fc := a.calls[id]
		if buf, ok := a.argBuilders[id]; ok {
			fc.Arguments = json.RawMessage(*buf)
		}
		out = append(out, fc)
	}
	return out
}

// Aggregator consumes a protocol.ResponseEvent channel and drives a Sink.
type Aggregator struct {
	mode Mode
	sink Sink
}

func New(mode Mode, sink Sink) *Aggregator {
	return &Aggregator{mode: mode, sink: sink}
}

// Run consumes ch to completion. It returns the accumulated Result even
// when the aggregator is in Streaming mode, so callers that want both the
// live feed and the final item can use the same call.
func (a *Aggregator) Run(ch <-chan protocol.ResponseEvent) (Result, error) {
	var result Result
	tca := newToolCallAccumulator()
	var sawTextDelta, sawReasoningDelta bool

	for evt := range ch {
		if a.mode == Streaming && a.sink != nil {
			switch evt.Type {
			case protocol.EventOutputTextDelta, protocol.EventReasoningDelta, protocol.EventFunctionArgsDelta, protocol.EventOutputItemAdded, protocol.EventOutputItemDone:
				a.sink.Delta(evt)
			}
		}

		switch evt.Type {
		case protocol.EventOutputTextDelta:
			sawTextDelta = true
			result.Text += evt.Delta
		case protocol.EventReasoningDelta:
			sawReasoningDelta = true
			result.Reasoning += evt.Delta
		case protocol.EventOutputItemAdded:
			if fc, ok := evt.Item.(protocol.FunctionCall); ok {
				tca.begin(evt.ItemID, fc)
			}
		case protocol.EventFunctionArgsDelta:
			tca.delta(evt.ItemID, evt.Delta)
		case protocol.EventOutputItemDone:
			switch item := evt.Item.(type) {
			case protocol.AssistantMessage:
				// Adopt the item verbatim only when no text deltas preceded
				// it; otherwise the deltas already built result.Text and this
				// final echo of the same content would double it up.
				if !sawTextDelta {
					result.Text += flattenText(item.Content)
				}
			case protocol.ReasoningItem:
				if !sawReasoningDelta {
					result.Reasoning += item.Summary
				}
			case protocol.FunctionCall:
				if _, tracked := tca.calls[evt.ItemID]; !tracked {
					// Never saw output_item.added/args.delta for this call;
					// the done event already carries the full arguments, so
					// record it directly instead of starting a delta buffer.
					tca.order = append(tca.order, evt.ItemID)
					tca.calls[evt.ItemID] = item
				}
			default:
				// Not an assistant message, reasoning, or function call
				// (e.g. a local shell or web search call) — nothing in
				// Result carries it; Streaming mode already forwarded it
				// via sink.Delta above, unchanged.
			}
		case protocol.EventUsage:
			result.Usage = mergeUsage(result.Usage, evt.Usage)
		case protocol.EventCompleted:
			if evt.Usage != nil {
				result.Usage = mergeUsage(result.Usage, evt.Usage)
			}
			result.ToolCalls = tca.finalize()
			if a.sink != nil {
				a.sink.Completed(result)
			}
			return result, nil
		case protocol.EventFailed:
			if a.sink != nil {
				a.sink.Failed(evt.Err)
			}
			return result, evt.Err
		}
	}

	// Channel closed without a terminal event (cancelled context, etc).
	result.ToolCalls = tca.finalize()
	return result, nil
}

// flattenText concatenates the text of every content part, the same join
// the Responses dialect uses when it sends a message item's content in one
// shot rather than as a sequence of text deltas.
func flattenText(parts []protocol.ContentPart) string {
	var out string
	for _, p := range parts {
		out += p.Text
	}
	return out
}

func mergeUsage(acc, incoming *protocol.TokenUsage) *protocol.TokenUsage {
	if incoming == nil {
		return acc
	}
	if acc == nil {
		cp := *incoming
		return &cp
	}
	if incoming.InputTokens > acc.InputTokens {
		acc.InputTokens = incoming.InputTokens
	}
	if incoming.OutputTokens > acc.OutputTokens {
		acc.OutputTokens = incoming.OutputTokens
	}
	if incoming.CachedInputTokens > acc.CachedInputTokens {
		acc.CachedInputTokens = incoming.CachedInputTokens
	}
	if incoming.ReasoningOutputTokens > acc.ReasoningOutputTokens {
		acc.ReasoningOutputTokens = incoming.ReasoningOutputTokens
	}
	if incoming.TotalTokens > acc.TotalTokens {
		acc.TotalTokens = incoming.TotalTokens
	}
	return acc
}
