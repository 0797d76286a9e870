package execpolicy

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xonecas/turnengine/internal/protocol"
)

const policyFileExtension = ".symbpolicy"

// Policy is an immutable set of prefix rules, built once by a Parser.
type Policy struct {
	rules []Rule
}

// Empty returns a policy with no rules; every command falls through to the
// dangerous-command heuristic.
func Empty() *Policy { return &Policy{} }

// Evaluation is the result of checking one argv against the policy.
type Evaluation struct {
	Matched  bool
	Decision protocol.ExecPolicyDecision
	RuleID   string
}

// Check evaluates argv against every rule, combining decisions from all
// matches via strictest-wins.
func (p *Policy) Check(argv []string) Evaluation {
	var eval Evaluation
	for _, r := range p.rules {
		if !r.matchesPrefix(argv) {
			continue
		}
		if !eval.Matched {
			eval = Evaluation{Matched: true, Decision: r.Decision, RuleID: r.ID}
			continue
		}
		eval.Decision = strictestOf(eval.Decision, r.Decision)
	}
	return eval
}

// LoadFromDir loads every *.symbpolicy file from dir, in sorted order, the
// way the reference policy loader reads CODEX_HOME/policy. A missing
// directory is not an error — it yields an empty policy.
func LoadFromDir(fsys fs.FS, dir string) (*Policy, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if isNotExist(err) {
			return Empty(), nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), policyFileExtension) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	parser := NewParser()
	for _, path := range paths {
		contents, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, err
		}
		if err := parser.Parse(path, string(contents)); err != nil {
			return nil, err
		}
	}
	return parser.Build(), nil
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory") || strings.Contains(err.Error(), "file does not exist")
}

// Evaluator is the runtime entry point the Tool Orchestrator consults
// before running a shell/unified_exec command. It combines policy
// matching with the dangerous-command fallback heuristic.
type Evaluator struct {
	policy *Policy
}

func NewEvaluator(policy *Policy) *Evaluator {
	if policy == nil {
		policy = Empty()
	}
	return &Evaluator{policy: policy}
}

// Evaluate decides what to do with a command. resolvedPath is the absolute
// path the shell would actually execute (possibly empty if unresolved);
// argv is the literal command vector as requested.
func (e *Evaluator) Evaluate(_ context.Context, resolvedPath string, argv []string) protocol.ExecPolicyOutcome {
	command := commandFor(resolvedPath, argv)

	eval := e.policy.Check(command)
	if eval.Matched {
		outcome := protocol.ExecPolicyOutcome{Decision: eval.Decision, MatchedRuleID: eval.RuleID}
		if eval.Decision != protocol.ExecForbidden {
			outcome.RunWithEscalatedPerms = true
		}
		return outcome
	}

	if CommandMightBeDangerous(command) {
		return protocol.ExecPolicyOutcome{Decision: protocol.ExecPrompt}
	}
	return protocol.ExecPolicyOutcome{Decision: protocol.ExecAllow}
}
