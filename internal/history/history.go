// Package history is the Conversation History: two ordered in-memory
// sequences (the main thread and an independent review thread) with the
// tool-call/output pairing, synthetic-abort-repair, and post-turn
// reordering invariants a turn loop depends on. Generalized from the
// teacher's store.SessionMessage persistence shape and the reference
// ConversationHistory's record_items/handle_missing_tool_call_output.
//
// The core never persists to disk itself; callers that want durability
// wire in a Sink (see sqlitesink) to receive completed turns.
package history

import "github.com/xonecas/turnengine/internal/protocol"

// TaskKind selects which thread an operation applies to.
type TaskKind int

const (
	TaskRegular TaskKind = iota
	TaskCompact
	TaskReview
)

// History holds the main thread and an independent review thread.
type History struct {
	items              []protocol.ConversationItem
	reviewThreadItems  []protocol.ConversationItem
}

func New() *History {
	return &History{}
}

func (h *History) threadFor(kind TaskKind) *[]protocol.ConversationItem {
	if kind == TaskReview {
		return &h.reviewThreadItems
	}
	return &h.items
}

// Contents returns a copy of the main thread's items, oldest first.
func (h *History) Contents() []protocol.ConversationItem {
	return append([]protocol.ConversationItem(nil), h.items...)
}

// ReviewThreadContents returns a copy of the review thread's items.
func (h *History) ReviewThreadContents() []protocol.ConversationItem {
	return append([]protocol.ConversationItem(nil), h.reviewThreadItems...)
}

// ClearReviewThread empties the review thread, e.g. on `/review` exit.
func (h *History) ClearReviewThread() {
	h.reviewThreadItems = nil
}

// RecordItems appends items (oldest to newest) to the thread selected by
// kind. protocol.ConversationItem has no system-message variant (only
// user/assistant carry a Role), so every item recognized by the closed
// item set is API-transmittable; a nil item is the only thing dropped.
func (h *History) RecordItems(items []protocol.ConversationItem, kind TaskKind) {
	thread := h.threadFor(kind)
	for _, item := range items {
		if item == nil {
			continue
		}
		*thread = append(*thread, item)
	}
}

// Replace overwrites the main thread wholesale, used when a compaction
// summarizes older history into a shorter replacement.
func (h *History) Replace(items []protocol.ConversationItem) {
	h.items = items
}

// InitializeReviewHistory resets the review thread to initialContext plus
// the review request item, for entering `/review` mode.
func (h *History) InitializeReviewHistory(reviewRequest protocol.ConversationItem, initialContext []protocol.ConversationItem) {
	h.ClearReviewThread()
	h.RecordItems(initialContext, TaskReview)
	h.RecordItems([]protocol.ConversationItem{reviewRequest}, TaskReview)
}

// AddPendingInput records items produced while building the next prompt
// (typically a new user message) against the given thread.
func (h *History) AddPendingInput(items []protocol.ConversationItem, kind TaskKind) {
	h.RecordItems(items, kind)
}

func callIDOfCall(item protocol.ConversationItem) (string, bool) {
	switch v := item.(type) {
	case protocol.FunctionCall:
		return v.CallID, true
	case protocol.CustomToolCall:
		return v.CallID, true
	case protocol.LocalShellCall:
		if v.CallID == "" {
			return "", false
		}
		return v.CallID, true
	default:
		return "", false
	}
}

func callIDOfOutput(item protocol.ConversationItem) (string, bool) {
	switch v := item.(type) {
	case protocol.FunctionCallOutput:
		return v.CallID, true
	case protocol.CustomToolCallOutput:
		return v.CallID, true
	default:
		return "", false
	}
}

// HandleMissingToolCallOutput scans the selected thread for tool calls
// without a matching output and inserts a synthetic
// CustomToolCallOutput{call_id, output:"aborted"} immediately after each,
// so a subsequent user message never follows an orphan call.
func (h *History) HandleMissingToolCallOutput(kind TaskKind) {
	thread := h.threadFor(kind)

	completed := map[string]bool{}
	for _, item := range *thread {
		if id, ok := callIDOfOutput(item); ok {
			completed[id] = true
		}
	}

	var pending []string
	for _, item := range *thread {
		if id, ok := callIDOfCall(item); ok {
			pending = append(pending, id)
		}
	}

	for _, callID := range pending {
		if completed[callID] {
			continue
		}
		idx := -1
		for i, item := range *thread {
			if id, ok := callIDOfCall(item); ok && id == callID {
				idx = i
			}
		}
		if idx < 0 {
			continue
		}
		output := protocol.CustomToolCallOutput{CallID: callID, Output: "aborted"}
		rest := append([]protocol.ConversationItem{output}, (*thread)[idx+1:]...)
		*thread = append((*thread)[:idx+1], rest...)
	}
}

// Prompt returns the items to transmit for kind.
func (h *History) Prompt(kind TaskKind) []protocol.ConversationItem {
	if kind == TaskReview {
		return h.ReviewThreadContents()
	}
	return h.Contents()
}

// ReorderTurn reorders turnItems in place so the last assistant message
// with non-empty text precedes the first tool call in the slice, if both
// are present — keeping replayed transcripts readable even though the
// model may have interleaved a trailing remark after requesting a tool
// call. turnItems must contain only items recorded within a single turn.
func ReorderTurn(turnItems []protocol.ConversationItem) []protocol.ConversationItem {
	firstCallIdx := -1
	lastAssistantIdx := -1
	for i, item := range turnItems {
		if _, ok := callIDOfCall(item); ok && firstCallIdx < 0 {
			firstCallIdx = i
		}
		if msg, ok := item.(protocol.AssistantMessage); ok && hasNonEmptyText(msg) {
			lastAssistantIdx = i
		}
	}
	if firstCallIdx < 0 || lastAssistantIdx < 0 || lastAssistantIdx < firstCallIdx {
		return turnItems
	}

	out := make([]protocol.ConversationItem, 0, len(turnItems))
	out = append(out, turnItems[:firstCallIdx]...)
	out = append(out, turnItems[lastAssistantIdx])
	out = append(out, turnItems[firstCallIdx:lastAssistantIdx]...)
	out = append(out, turnItems[lastAssistantIdx+1:]...)
	return out
}

func hasNonEmptyText(msg protocol.AssistantMessage) bool {
	for _, part := range msg.Content {
		if part.Text != "" {
			return true
		}
	}
	return false
}

// Sink receives a completed turn's recorded items for optional external
// persistence. The core itself never implements one; callers that want
// durability provide an implementation (see sqlitesink.Sink).
type Sink interface {
	RecordTurn(sessionID string, items []protocol.ConversationItem) error
}
