package protocol

// ResponseEventType tags the uniform event stream produced by internal/sse
// for both wire dialects (Responses and Chat Completions) plus the bonus
// Anthropic Messages dialect.
type ResponseEventType string

const (
	EventCreated        ResponseEventType = "created"
	EventOutputItemAdded ResponseEventType = "output_item_added"
	EventOutputTextDelta ResponseEventType = "output_text_delta"
	EventReasoningDelta  ResponseEventType = "reasoning_delta"
	EventFunctionArgsDelta ResponseEventType = "function_call_arguments_delta"
	EventOutputItemDone  ResponseEventType = "output_item_done"
	EventCompleted       ResponseEventType = "completed"
	EventFailed          ResponseEventType = "failed"
	EventRateLimits      ResponseEventType = "rate_limits"
	EventUsage           ResponseEventType = "usage"
)

// TokenUsage mirrors the usage accounting block surfaced by both dialects.
type TokenUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	CachedInputTokens   int64 `json:"cached_input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
}

// RateLimitSnapshot is the provider's reported remaining-capacity state.
type RateLimitSnapshot struct {
	Primary   *RateLimitWindow `json:"primary,omitempty"`
	Secondary *RateLimitWindow `json:"secondary,omitempty"`
}

// RateLimitWindow describes one rate-limit accounting window.
type RateLimitWindow struct {
	UsedPercent     float64 `json:"used_percent"`
	WindowSeconds   int64   `json:"window_seconds"`
	ResetsInSeconds int64   `json:"resets_in_seconds"`
}

// ResponseEvent is the single tagged-union shape every SSE decoder emits,
// regardless of wire dialect. The Stream Aggregator and Turn Loop only ever
// see this shape.
type ResponseEvent struct {
	Type ResponseEventType

	// Set on EventOutputItemAdded / EventOutputItemDone.
	Item ConversationItem

	// Set on EventOutputTextDelta / EventReasoningDelta / EventFunctionArgsDelta.
	ItemID string
	Delta  string

	// Set on EventCompleted.
	Usage *TokenUsage

	// Set on EventFailed.
	Err error

	// Set on EventRateLimits.
	RateLimits *RateLimitSnapshot
}
