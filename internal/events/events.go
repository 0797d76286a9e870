// Package events is the User Event Bus: a single ordered channel of
// engine-originated events that external observers (a TUI, a test
// harness, cmd/turnengine) subscribe to, generalizing the teacher's
// separate DeltaCallback/MessageCallback/ToolCallCallback/UsageCallback
// closures into one typed stream.
package events

import "github.com/xonecas/turnengine/internal/protocol"

// Type tags the kind of Event.
type Type string

const (
	TypeTextDelta      Type = "text_delta"
	TypeReasoningDelta Type = "reasoning_delta"
	TypeAssistantFinal Type = "assistant_final"
	TypeExecBegin      Type = "exec_begin"
	TypeExecOutputDelta Type = "exec_output_delta"
	TypeExecEnd        Type = "exec_end"
	TypeApprovalRequested Type = "approval_requested"
	TypeTokenUsage     Type = "token_usage"
	TypeTurnComplete   Type = "turn_complete"
	TypeTurnAborted    Type = "turn_aborted"
	TypeError          Type = "error"
)

// Event is the single tagged-union shape published on the Bus.
type Event struct {
	Type Type

	CallID string
	Text   string

	ExitCode int

	ApprovalCallID string
	ApprovalPrompt string

	Usage *protocol.TokenUsage

	Err error
}

// Bus fans a single producer's events out to any number of subscribers.
// Subscribers that stop draining their channel are dropped rather than
// allowed to block the engine.
type Bus struct {
	publish chan Event
	sub     chan chan Event
	unsub   chan chan Event
	done    chan struct{}
}

func NewBus() *Bus {
	b := &Bus{
		publish: make(chan Event, 64),
		sub:     make(chan chan Event),
		unsub:   make(chan chan Event),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subscribers := map[chan Event]struct{}{}
	for {
		select {
		case evt := <-b.publish:
			for ch := range subscribers {
				select {
				case ch <- evt:
				default:
					// Slow subscriber; drop the event for it rather than
					// block the engine.
				}
			}
		case ch := <-b.sub:
			subscribers[ch] = struct{}{}
		case ch := <-b.unsub:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case <-b.done:
			for ch := range subscribers {
				close(ch)
			}
			return
		}
	}
}

// Publish sends evt to every current subscriber, non-blocking. A nil Bus
// silently discards the event, so tool runtimes can hold an optional Bus
// without a separate nil check at every call site.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	select {
	case b.publish <- evt:
	case <-b.done:
	}
}

// Subscribe returns a channel of future events. Call Unsubscribe when
// done to avoid leaking the channel.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	select {
	case b.sub <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	select {
	case b.unsub <- ch:
	case <-b.done:
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() { close(b.done) }
