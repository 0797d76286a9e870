// Package execpolicy evaluates shell commands against a set of prefix
// rules, authored as tiny Starlark scripts, to decide whether a command
// should run unattended (allow), require user approval (prompt), or never
// run at all (forbidden).
//
// The evaluation algorithm — cross-product of first-position alternatives,
// per-position alternative sets elsewhere in the prefix, strictest-decision
// wins on ambiguity — is ported from the reference evaluator's rule-matching
// semantics. The "might be dangerous" fallback heuristic used when nothing
// matches is adapted from the teacher's internal/shell.BannedCommands
// denylist.
package execpolicy

import (
	"fmt"
	"path/filepath"

	"github.com/xonecas/turnengine/internal/protocol"
)

// Rule is one prefix_rule() declaration. Pattern[i] is the set of literal
// alternatives acceptable at argv position i; a command matches when every
// position it has is present in argv at that index.
type Rule struct {
	ID         string
	Pattern    [][]string
	Decision   protocol.ExecPolicyDecision
	MatchExamples    [][]string
	NotMatchExamples [][]string
}

// matchesPrefix reports whether argv satisfies every position of the rule's
// pattern. A rule with an empty pattern never matches.
func (r Rule) matchesPrefix(argv []string) bool {
	if len(r.Pattern) == 0 || len(argv) < len(r.Pattern) {
		return false
	}
	for i, alternatives := range r.Pattern {
		if !contains(alternatives, argv[i]) {
			return false
		}
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// validate checks the rule's own match/not_match examples against itself,
// the load-time self-check the reference policy loader performs before
// accepting a rule file.
func (r Rule) validate() error {
	for _, ex := range r.MatchExamples {
		if !r.matchesPrefix(ex) {
			return fmt.Errorf("rule %q: match example %v did not match its own pattern", r.ID, ex)
		}
	}
	for _, ex := range r.NotMatchExamples {
		if r.matchesPrefix(ex) {
			return fmt.Errorf("rule %q: not_match example %v unexpectedly matched its own pattern", r.ID, ex)
		}
	}
	return nil
}

// strictestOf combines two decisions when multiple rules match the same
// command, preferring the more restrictive one: forbidden > prompt > allow.
func strictestOf(a, b protocol.ExecPolicyDecision) protocol.ExecPolicyDecision {
	rank := map[protocol.ExecPolicyDecision]int{
		protocol.ExecAllow:     0,
		protocol.ExecPrompt:    1,
		protocol.ExecForbidden: 2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// commandFor derives the canonical argv[0] the same way the reference
// evaluator does: prefer the basename of argv[0], falling back to the
// basename of the resolved executable path, falling back to the path
// itself.
func commandFor(resolvedPath string, argv []string) []string {
	cmd0 := ""
	if len(argv) > 0 {
		if base := filepath.Base(argv[0]); base != "." && base != "/" {
			cmd0 = base
		}
	}
	if cmd0 == "" && resolvedPath != "" {
		cmd0 = filepath.Base(resolvedPath)
	}
	if cmd0 == "" {
		cmd0 = resolvedPath
	}

	out := make([]string, 0, len(argv))
	out = append(out, cmd0)
	if len(argv) > 1 {
		out = append(out, argv[1:]...)
	}
	return out
}
