// Package turn is the Turn Loop: drives one conversation turn from user
// input through however many rounds of tool calling the model requests,
// wiring the Response Stream, Stream Aggregator, Tool Orchestrator, and
// Conversation History together. Generalizes internal/llm/loop.go's
// ProcessTurn from a direct provider/mcp.Proxy call shape onto
// internal/respstream + internal/orchestrator + internal/history, while
// preserving its recitation and repeated-tool-call heuristics verbatim.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xonecas/turnengine/internal/aggregator"
	"github.com/xonecas/turnengine/internal/events"
	"github.com/xonecas/turnengine/internal/history"
	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/respstream"
)

// RequestBuilder constructs the respstream.Request for one round, given the
// full prompt context and the tool list to advertise. Injected by the
// composition root (cmd/turnengine), which knows the active provider's
// endpoint/auth/model — the turn loop itself is provider-agnostic.
type RequestBuilder func(ctx []protocol.ConversationItem, tools []protocol.ToolDef) respstream.Request

// reminderInterval mirrors llm.reminderInterval: how many tool-calling
// rounds elapse between synthetic goal reminders.
const reminderInterval = 10

// maxRepeatedCalls mirrors the teacher's "3 identical calls in a row"
// anti-repetition threshold.
const maxRepeatedCalls = 3

// Loop drives turns for one session.
type Loop struct {
	History        *history.History
	Orchestrator   *orchestrator.Orchestrator
	Tools          map[string]orchestrator.Runtime
	ToolDefs       []protocol.ToolDef
	Events         *events.Bus
	BuildRequest   RequestBuilder
	RetryPolicy    respstream.RetryPolicy
	MaxToolRounds  int
	ApprovalPolicy protocol.AskForApproval
	SandboxPolicy  protocol.SandboxPolicy
	Cwd            string
	// Scratchpad, when non-empty, is injected as a recitation reminder in
	// place of echoing the user's original request.
	Scratchpad func() string
	// Sink optionally persists each completed turn's recorded items (see
	// history/sqlitesink). Left nil, turns are kept in memory only.
	Sink history.Sink
}

func New(l Loop) *Loop {
	if l.MaxToolRounds == 0 {
		l.MaxToolRounds = 60
	}
	return &l
}

// recentCall is used to detect the model issuing the same tool call three
// times in a row, the way llm.ProcessTurn's `recent` slice does.
type recentCall struct {
	Name string
	Args string
}

// RunTurn handles one conversation turn for kind, which may involve several
// rounds of tool calling, and records everything produced into History.
func (l *Loop) RunTurn(ctx context.Context, sessionID string, kind history.TaskKind, userInput []protocol.ConversationItem) error {
	// Before folding in new user input, any tool call left uncompleted by a
	// prior interrupted turn gets a synthetic aborted output so the
	// transcript stays API-valid.
	l.History.HandleMissingToolCallOutput(kind)
	l.History.RecordItems(userInput, kind)

	workingContext := append(append([]protocol.ConversationItem{}, l.History.Prompt(kind)...), userInput...)
	var turnItems []protocol.ConversationItem
	var recent []recentCall

	for round := 0; round < l.MaxToolRounds; round++ {
		injectRecitation(workingContext, l.Scratchpad, round)

		result, err := l.runOneRequest(ctx, workingContext, l.ToolDefs)
		if err != nil {
			l.Events.Publish(events.Event{Type: events.TypeTurnAborted, Err: err})
			return fmt.Errorf("turn round %d: %w", round, err)
		}

		assistantItem := assistantMessageFromResult(result)
		workingContext = append(workingContext, assistantItem)
		turnItems = append(turnItems, assistantItem)

		if len(result.ToolCalls) == 0 {
			l.recordTurn(sessionID, turnItems, kind)
			return nil
		}

		outputs := l.executeToolCalls(ctx, result.ToolCalls)
		for i, fc := range result.ToolCalls {
			workingContext = append(workingContext, fc)
			turnItems = append(turnItems, fc)
			workingContext = append(workingContext, outputs[i])
			turnItems = append(turnItems, outputs[i])

			recent = append(recent, recentCall{Name: fc.Name, Args: string(fc.Arguments)})
		}

		warnOnRepeatedCalls(recent, &outputs[len(outputs)-1])
		workingContext[len(workingContext)-1] = outputs[len(outputs)-1]
		turnItems[len(turnItems)-1] = outputs[len(outputs)-1]
	}

	if err := ctx.Err(); err != nil {
		l.Events.Publish(events.Event{Type: events.TypeTurnAborted, Err: err})
		return err
	}

	// Tool call limit reached: one final call with no tools forces a text
	// summary, matching llm.ProcessTurn's fallback.
	limitNotice := protocol.UserMessage{Content: []protocol.ContentPart{{
		Type: "text",
		Text: "You have exhausted your tool call limit for this turn. Respond in text only. Summarize what you accomplished and what remains.",
	}}}
	workingContext = append(workingContext, limitNotice)
	turnItems = append(turnItems, limitNotice)

	result, err := l.runOneRequest(ctx, workingContext, nil)
	if err != nil {
		l.Events.Publish(events.Event{Type: events.TypeTurnAborted, Err: err})
		return fmt.Errorf("final text-only round: %w", err)
	}
	finalItem := assistantMessageFromResult(result)
	turnItems = append(turnItems, finalItem)

	l.recordTurn(sessionID, turnItems, kind)
	return nil
}

// recordTurn reorders this turn's items (trailing assistant text before the
// turn's first tool call) and records them into History.
func (l *Loop) recordTurn(sessionID string, turnItems []protocol.ConversationItem, kind history.TaskKind) {
	reordered := history.ReorderTurn(turnItems)
	l.History.RecordItems(reordered, kind)
	if l.Sink != nil {
		if err := l.Sink.RecordTurn(sessionID, reordered); err != nil {
			l.Events.Publish(events.Event{Type: events.TypeError, Err: fmt.Errorf("persist turn: %w", err)})
		}
	}
	l.Events.Publish(events.Event{Type: events.TypeTurnComplete})
}

func (l *Loop) runOneRequest(ctx context.Context, promptCtx []protocol.ConversationItem, toolDefs []protocol.ToolDef) (aggregator.Result, error) {
	req := l.BuildRequest(promptCtx, toolDefs)
	ch := respstream.Stream(ctx, req, l.RetryPolicy)
	agg := aggregator.New(aggregator.Streaming, &busSink{bus: l.Events})
	return agg.Run(ch)
}

// busSink forwards aggregator deltas onto the engine's event bus; a nil bus
// is fine, since events.Bus.Publish no-ops on a nil receiver.
type busSink struct{ bus *events.Bus }

func (s *busSink) Delta(evt protocol.ResponseEvent) {
	switch evt.Type {
	case protocol.EventOutputTextDelta:
		s.bus.Publish(events.Event{Type: events.TypeTextDelta, Text: evt.Delta})
	case protocol.EventReasoningDelta:
		s.bus.Publish(events.Event{Type: events.TypeReasoningDelta, Text: evt.Delta})
	}
}

func (s *busSink) Completed(result aggregator.Result) {
	s.bus.Publish(events.Event{Type: events.TypeAssistantFinal, Text: result.Text})
	if result.Usage != nil {
		s.bus.Publish(events.Event{Type: events.TypeTokenUsage, Usage: result.Usage})
	}
}

func (s *busSink) Failed(err error) {
	s.bus.Publish(events.Event{Type: events.TypeError, Err: err})
}

func assistantMessageFromResult(result aggregator.Result) protocol.AssistantMessage {
	if result.Text == "" {
		return protocol.AssistantMessage{}
	}
	return protocol.AssistantMessage{Content: []protocol.ContentPart{{Type: "text", Text: result.Text}}}
}

// executeToolCalls runs every call in calls through the orchestrator and
// returns one FunctionCallOutput per call, in the same order.
func (l *Loop) executeToolCalls(ctx context.Context, calls []protocol.FunctionCall) []protocol.FunctionCallOutput {
	outputs := make([]protocol.FunctionCallOutput, len(calls))
	for i, fc := range calls {
		req := buildToolCallRequest(fc, l.Cwd)
		runtime, ok := l.Tools[fc.Name]
		if !ok {
			outputs[i] = protocol.FunctionCallOutput{CallID: fc.CallID, Output: fmt.Sprintf("unknown tool %q", fc.Name)}
			continue
		}

		result, err := l.Orchestrator.Run(ctx, runtime, req, l.ApprovalPolicy, l.SandboxPolicy)
		if err != nil {
			outputs[i] = protocol.FunctionCallOutput{CallID: fc.CallID, Output: fmt.Sprintf("Error: %v", err)}
			continue
		}
		outputs[i] = protocol.FunctionCallOutput{CallID: fc.CallID, Output: result.Output}
	}
	return outputs
}

// buildToolCallRequest decodes the argv/workdir/timeout fields tool
// runtimes may need for approval/sandbox decisions out of fc.Arguments,
// falling back to cwd when the call carries no workdir of its own.
func buildToolCallRequest(fc protocol.FunctionCall, cwd string) protocol.ToolCallRequest {
	req := protocol.ToolCallRequest{CallID: fc.CallID, Name: fc.Name, Arguments: fc.Arguments, Workdir: cwd}

	var extra struct {
		Command                  []string `json:"command"`
		Workdir                  string   `json:"workdir"`
		TimeoutMillis            int64    `json:"timeout_ms"`
		WithEscalatedPermissions bool     `json:"with_escalated_permissions"`
		Justification            string   `json:"justification"`
	}
	if len(fc.Arguments) > 0 {
		_ = json.Unmarshal(fc.Arguments, &extra)
	}
	if len(extra.Command) > 0 {
		req.Command = extra.Command
	}
	if extra.Workdir != "" {
		req.Workdir = extra.Workdir
	}
	req.TimeoutMillis = extra.TimeoutMillis
	req.WithEscalatedPermissions = extra.WithEscalatedPermissions
	req.Justification = extra.Justification
	return req
}

// warnOnRepeatedCalls appends a system-reminder to last when the three most
// recent tool calls are identical, mirroring llm.ProcessTurn's
// anti-repetition nudge verbatim.
func warnOnRepeatedCalls(recent []recentCall, last *protocol.FunctionCallOutput) {
	if len(recent) < maxRepeatedCalls {
		return
	}
	tail := recent[len(recent)-maxRepeatedCalls:]
	for i := 1; i < len(tail); i++ {
		if tail[i] != tail[0] {
			return
		}
	}
	last.Output += "\n\n<system-reminder>WARNING: You are repeating the same tool call with the same arguments. This is wasteful. Stop and either try a different approach, summarize what you know, or ask the user for help.</system-reminder>"
}

// injectRecitation appends a <system-reminder> block to the last
// tool-result item in ctx every reminderInterval rounds, mirroring
// llm.injectRecitation: scratchpad content takes priority, falling back to
// echoing the user's original request. Appending to an existing item
// instead of inserting a new one avoids shifting positions and invalidating
// prompt caching.
func injectRecitation(ctx []protocol.ConversationItem, scratchpad func() string, round int) {
	if round == 0 || round%reminderInterval != 0 {
		return
	}

	var reminder string
	if scratchpad != nil {
		reminder = scratchpad()
	}
	if reminder == "" {
		for _, item := range ctx {
			if um, ok := item.(protocol.UserMessage); ok {
				reminder = "The user's request: " + textOf(um.Content)
				break
			}
		}
	}
	if reminder == "" {
		return
	}

	tag := "\n\n<system-reminder>\n"
	for i := len(ctx) - 1; i >= 0; i-- {
		out, ok := ctx[i].(protocol.FunctionCallOutput)
		if !ok {
			continue
		}
		if idx := strings.Index(out.Output, tag); idx >= 0 {
			out.Output = out.Output[:idx]
		}
		out.Output += tag + reminder + "\n</system-reminder>"
		ctx[i] = out
		return
	}
}

func textOf(parts []protocol.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
