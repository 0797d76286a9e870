// Command turnengine is the headless composition root for the turn
// execution engine: it loads configuration and credentials, wires the
// Transport/Orchestrator/Hub/Turn Loop together, and drives one session
// from stdin/stdout, replacing the teacher's cmd/symb TUI entrypoint.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/turnengine/internal/approval"
	"github.com/xonecas/turnengine/internal/config"
	"github.com/xonecas/turnengine/internal/events"
	"github.com/xonecas/turnengine/internal/execpolicy"
	"github.com/xonecas/turnengine/internal/history"
	"github.com/xonecas/turnengine/internal/history/sqlitesink"
	"github.com/xonecas/turnengine/internal/hub"
	"github.com/xonecas/turnengine/internal/orchestrator"
	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/respstream"
	"github.com/xonecas/turnengine/internal/sandbox"
	"github.com/xonecas/turnengine/internal/tools"
	"github.com/xonecas/turnengine/internal/transport"
	"github.com/xonecas/turnengine/internal/turn"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagProvider := flag.String("provider", "", "provider to use, default is config's default_provider")
	flagPrompt := flag.String("prompt", "", "run a single turn with this prompt and exit instead of entering the REPL")
	flag.Parse()

	configPath := filepath.Join(".", "config.toml")
	if dataDir, err := config.DataDir(); err == nil {
		dataDirPath := filepath.Join(dataDir, "config.toml")
		if _, err := os.Stat(dataDirPath); err == nil {
			configPath = dataDirPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Printf("Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	providerName := *flagProvider
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}
	providerCfg, ok := cfg.Providers[providerName]
	if !ok {
		fmt.Printf("Error: provider %q not found in config\n", providerName)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Printf("Error: failed to get working directory: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	defer bus.Close()
	go printEvents(bus)

	sink := openHistorySink(cfg)
	if sink != nil {
		defer sink.Close()
	}

	loopFactory := newLoopFactory(cfg, providerName, providerCfg, creds, cwd, bus, sink)

	sessionID := uuid.NewString()
	loop := loopFactory()

	ctx := context.Background()
	if *flagPrompt != "" {
		runTurn(ctx, loop, sessionID, *flagPrompt)
		return
	}

	repl(ctx, loop, sessionID)
}

// stdinScanner is the single reader over os.Stdin shared by the REPL and
// the approval prompt, so a fresh bufio.Scanner buffer never steals bytes
// meant for the other.
var stdinScanner = func() *bufio.Scanner {
	s := bufio.NewScanner(os.Stdin)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}()

// newLoopFactory captures every dependency a turn.Loop needs and returns a
// constructor so cmd/turnengine can build one loop per session (the main
// REPL session, plus one per Hub sub-agent via collab).
func newLoopFactory(cfg *config.Config, providerName string, providerCfg config.ProviderConfig, creds *config.Credentials, cwd string, bus *events.Bus, sink history.Sink) func() *turn.Loop {
	endpoint := transport.Endpoint{
		Name:        providerName,
		BaseURL:     providerCfg.Endpoint,
		APIKey:      creds.GetAPIKey(providerName),
		Dialect:     dialectFor(providerCfg.DialectOrDefault()),
		Model:       providerCfg.Model,
		Temperature: providerCfg.Temperature,
	}
	tr := transport.New(endpoint, nil)

	mgr := sandbox.NewManager()
	cache := approval.NewCache()
	approver := &cliApprover{stdin: stdinScanner}
	orch := orchestrator.New(mgr, cache, approver)

	evaluator := execPolicyEvaluator(cfg.Engine.ExecPolicyDir)

	h := hub.New(hubLimits(cfg.Engine))

	approvalPolicy := protocol.AskForApproval(cfg.Engine.ApprovalPolicyOrDefault())
	sandboxPolicy := sandboxPolicyFor(cfg.Engine)

	return func() *turn.Loop {
		runtimes := map[string]orchestrator.Runtime{
			"shell":        &tools.ShellRuntime{Sandbox: mgr, Evaluator: evaluator, Events: bus, Cwd: cwd},
			"apply_patch":  &tools.ApplyPatchRuntime{Cwd: cwd},
			"unified_exec": &tools.UnifiedExecRuntime{Cwd: cwd},
		}
		collab := &tools.CollabRuntime{Hub: h}
		runtimes["collab"] = collab

		l := turn.New(turn.Loop{
			History:        history.New(),
			Orchestrator:   orch,
			Tools:          runtimes,
			ToolDefs:       tools.ToolDefs(),
			Events:         bus,
			BuildRequest:   tr.BuildRequest,
			RetryPolicy:    respstream.DefaultRetryPolicy(),
			MaxToolRounds:  cfg.Engine.MaxToolRoundsOrDefault(),
			ApprovalPolicy: approvalPolicy,
			SandboxPolicy:  sandboxPolicy,
			Cwd:            cwd,
			Sink:           sink,
		})
		collab.RunTurn = subAgentRunner(l, h)
		return l
	}
}

// subAgentRunner adapts turn.Loop.RunTurn (runs every pending tool call to
// completion before returning) into a tools.TurnRunner: every collab call
// runs synchronously, so needsFollowUp is always false, matching
// CollabRuntime's own doc comment.
func subAgentRunner(l *turn.Loop, h *hub.Hub) tools.TurnRunner {
	return func(ctx context.Context, agent hub.AgentID, instructions, input string) (bool, string, error) {
		text := input
		if instructions != "" {
			text = instructions + "\n\n" + input
		}
		userInput := []protocol.ConversationItem{
			protocol.UserMessage{Content: []protocol.ContentPart{{Type: "text", Text: text}}},
		}
		sessionID := fmt.Sprintf("agent-%d", agent)
		if err := l.RunTurn(ctx, sessionID, history.TaskRegular, userInput); err != nil {
			return false, "", err
		}
		return false, lastAssistantText(l.History.Contents()), nil
	}
}

func lastAssistantText(items []protocol.ConversationItem) string {
	for i := len(items) - 1; i >= 0; i-- {
		msg, ok := items[i].(protocol.AssistantMessage)
		if !ok {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			b.WriteString(part.Text)
		}
		return b.String()
	}
	return ""
}

func dialectFor(name string) transport.Dialect {
	switch name {
	case "responses":
		return transport.DialectResponses
	case "anthropic":
		return transport.DialectAnthropic
	default:
		return transport.DialectChatCompletions
	}
}

func sandboxPolicyFor(e config.EngineConfig) protocol.SandboxPolicy {
	switch e.SandboxPolicyOrDefault() {
	case "read-only":
		return protocol.ReadOnlyPolicy()
	case "danger-full-access":
		return protocol.DangerFullAccessPolicy()
	default:
		return protocol.WorkspaceWritePolicy(e.WorkspaceWritableRoots, e.WorkspaceNetworkAccess)
	}
}

func hubLimits(e config.EngineConfig) hub.Limits {
	limits := hub.DefaultLimits()
	if e.HubMaxAgents > 0 {
		limits.MaxAgents = e.HubMaxAgents
	}
	if e.HubMaxDepth > 0 {
		limits.MaxDepth = e.HubMaxDepth
	}
	return limits
}

func execPolicyEvaluator(dir string) *execpolicy.Evaluator {
	if dir == "" {
		return execpolicy.NewEvaluator(execpolicy.Empty())
	}
	policy, err := execpolicy.LoadFromDir(os.DirFS(dir), ".")
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to load exec policy rules")
		return execpolicy.NewEvaluator(execpolicy.Empty())
	}
	return execpolicy.NewEvaluator(policy)
}

func openHistorySink(cfg *config.Config) *sqlitesink.Sink {
	if cfg.Engine.HistoryDBPath == "" {
		return nil
	}
	sink, err := sqlitesink.Open(cfg.Engine.HistoryDBPath)
	if err != nil {
		fmt.Printf("Warning: failed to open history db %q: %v\n", cfg.Engine.HistoryDBPath, err)
		return nil
	}
	return sink
}

// repl reads one prompt per line from stdin and runs a turn for each,
// until EOF or an "exit"/"quit" line; blank lines are skipped.
func repl(ctx context.Context, l *turn.Loop, sessionID string) {
	fmt.Println("turnengine ready. Type a prompt and press enter (exit/quit to stop).")
	for {
		fmt.Print("> ")
		if !stdinScanner.Scan() {
			return
		}
		line := strings.TrimSpace(stdinScanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		runTurn(ctx, l, sessionID, line)
	}
}

func runTurn(ctx context.Context, l *turn.Loop, sessionID string, prompt string) {
	userInput := []protocol.ConversationItem{
		protocol.UserMessage{Content: []protocol.ContentPart{{Type: "text", Text: prompt}}},
	}
	if err := l.RunTurn(ctx, sessionID, history.TaskRegular, userInput); err != nil {
		fmt.Printf("turn failed: %v\n", err)
	}
}

// printEvents drains the bus and renders a terse line-oriented transcript,
// the stdout-facing half of cmd/turnengine's "stdin/stdout for manual
// testing" role.
func printEvents(bus *events.Bus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for evt := range ch {
		switch evt.Type {
		case events.TypeTextDelta:
			fmt.Print(evt.Text)
		case events.TypeAssistantFinal:
			fmt.Println()
		case events.TypeExecBegin:
			fmt.Printf("\n$ %s\n", evt.Text)
		case events.TypeExecOutputDelta:
			fmt.Print(evt.Text)
		case events.TypeExecEnd:
			fmt.Printf("\n(exit %d)\n", evt.ExitCode)
		case events.TypeApprovalRequested:
			fmt.Printf("\n[approval requested: %s]\n", evt.ApprovalPrompt)
		case events.TypeError:
			fmt.Printf("\nerror: %v\n", evt.Err)
		case events.TypeTurnAborted:
			fmt.Printf("\nturn aborted: %v\n", evt.Err)
		}
	}
}

// cliApprover prompts on stdin/stdout for tool calls that need approval,
// mirroring the teacher's flag-and-fmt.Printf CLI conventions rather than
// its TUI modal (which has no stdin/stdout surface to drive headlessly).
type cliApprover struct {
	stdin *bufio.Scanner
}

func (a *cliApprover) RequestApproval(_ context.Context, req protocol.ToolCallRequest, reason string) protocol.ReviewDecision {
	fmt.Printf("\napproval requested for %q (%s): %s\nallow? [y/N/a=always this session] ", req.Name, reason, strings.Join(req.Command, " "))
	if !a.stdin.Scan() {
		return protocol.DecisionDenied
	}
	switch strings.ToLower(strings.TrimSpace(a.stdin.Text())) {
	case "y", "yes":
		return protocol.DecisionApproved
	case "a", "always":
		return protocol.DecisionApprovedForSession
	default:
		return protocol.DecisionDenied
	}
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	dataDir, err := config.DataDir()
	if err != nil {
		return err
	}

	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, "turnengine.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return nil
}
