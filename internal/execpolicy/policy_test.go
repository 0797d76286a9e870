package execpolicy

import (
	"context"
	"testing"

	"github.com/xonecas/turnengine/internal/protocol"
)

func TestAllowRuleBypassesPrompt(t *testing.T) {
	parser := NewParser()
	if err := parser.Parse("test.symbpolicy", `prefix_rule(pattern=["echo"], decision="allow")`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := NewEvaluator(parser.Build())
	outcome := eval.Evaluate(context.Background(), "/bin/echo", []string{"echo", "hi"})
	if outcome.Decision != protocol.ExecAllow || !outcome.RunWithEscalatedPerms {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestNoMatchDangerousCommandPrompts(t *testing.T) {
	eval := NewEvaluator(Empty())
	outcome := eval.Evaluate(context.Background(), "/bin/rm", []string{"rm", "-rf", "/"})
	if outcome.Decision != protocol.ExecPrompt {
		t.Fatalf("expected prompt, got %+v", outcome)
	}
}

func TestNoMatchSafeCommandAllowed(t *testing.T) {
	eval := NewEvaluator(Empty())
	outcome := eval.Evaluate(context.Background(), "/bin/ls", []string{"ls", "-la"})
	if outcome.Decision != protocol.ExecAllow {
		t.Fatalf("expected allow, got %+v", outcome)
	}
}

func TestForbiddenRuleWins(t *testing.T) {
	parser := NewParser()
	if err := parser.Parse("test.symbpolicy", `
prefix_rule(pattern=["git", ["push", "pull"]], decision="allow", id="git-ok")
prefix_rule(pattern=["git", "push", ["--force", "-f"]], decision="forbidden", id="git-force")
`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := NewEvaluator(parser.Build())
	outcome := eval.Evaluate(context.Background(), "", []string{"git", "push", "--force"})
	if outcome.Decision != protocol.ExecForbidden {
		t.Fatalf("expected forbidden to win, got %+v", outcome)
	}
}

func TestRuleExampleValidationCatchesBadPattern(t *testing.T) {
	parser := NewParser()
	err := parser.Parse("bad.symbpolicy", `prefix_rule(pattern=["git", "push"], decision="allow", not_match=[["git", "push"]])`)
	if err == nil {
		t.Fatal("expected validation error for a not_match example that actually matches")
	}
}

func TestArgvBasenameFallback(t *testing.T) {
	parser := NewParser()
	if err := parser.Parse("p.symbpolicy", `prefix_rule(pattern=["echo"], decision="allow")`); err != nil {
		t.Fatalf("parse: %v", err)
	}
	eval := NewEvaluator(parser.Build())
	outcome := eval.Evaluate(context.Background(), "", []string{"/usr/bin/echo", "hi"})
	if outcome.Decision != protocol.ExecAllow {
		t.Fatalf("expected basename-normalized match to allow, got %+v", outcome)
	}
}
