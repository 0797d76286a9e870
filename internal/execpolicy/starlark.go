package execpolicy

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/xonecas/turnengine/internal/protocol"
)

// Parser accumulates rules loaded from one or more *.symbpolicy files, each
// evaluated as a small Starlark script exposing a single builtin:
//
//	prefix_rule(
//	    pattern=["git", ["push", "pull"]],
//	    decision="allow",
//	    id="git-read-write",
//	    match=[["git", "push"]],
//	    not_match=[["git", "status"]],
//	)
type Parser struct {
	rules []Rule
}

func NewParser() *Parser { return &Parser{} }

// Parse evaluates one script's source against the given identifier (used
// only for error messages) and appends any prefix_rule() calls it makes.
func (p *Parser) Parse(identifier, src string) error {
	thread := &starlark.Thread{Name: identifier}
	builtins := starlark.StringDict{
		"prefix_rule": starlark.NewBuiltin("prefix_rule", p.prefixRuleBuiltin),
	}
	if _, err := starlark.ExecFileOptions(&starlark.FileOptions{}, thread, identifier, src, builtins); err != nil {
		return fmt.Errorf("parse %s: %w", identifier, err)
	}
	return nil
}

func (p *Parser) prefixRuleBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		patternVal  starlark.Value
		decision    string
		id          string
		matchVal    starlark.Value
		notMatchVal starlark.Value
	)
	if err := starlark.UnpackArgs("prefix_rule", args, kwargs,
		"pattern", &patternVal,
		"decision", &decision,
		"id?", &id,
		"match?", &matchVal,
		"not_match?", &notMatchVal,
	); err != nil {
		return nil, err
	}

	pattern, err := toPatternPositions(patternVal)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	dec, err := toDecision(decision)
	if err != nil {
		return nil, err
	}
	matchExamples, err := toExampleList(matchVal)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	notMatchExamples, err := toExampleList(notMatchVal)
	if err != nil {
		return nil, fmt.Errorf("not_match: %w", err)
	}
	if id == "" {
		id = fmt.Sprintf("rule-%d", len(p.rules))
	}

	rule := Rule{ID: id, Pattern: pattern, Decision: dec, MatchExamples: matchExamples, NotMatchExamples: notMatchExamples}
	if err := rule.validate(); err != nil {
		return nil, err
	}
	p.rules = append(p.rules, rule)
	return starlark.None, nil
}

func toDecision(s string) (protocol.ExecPolicyDecision, error) {
	switch protocol.ExecPolicyDecision(s) {
	case protocol.ExecAllow, protocol.ExecPrompt, protocol.ExecForbidden:
		return protocol.ExecPolicyDecision(s), nil
	default:
		return "", fmt.Errorf("invalid decision %q (want allow|prompt|forbidden)", s)
	}
}

// toPatternPositions converts a Starlark list whose elements are either a
// string (single alternative) or a list of strings (multiple alternatives
// at that position) into [][]string.
func toPatternPositions(v starlark.Value) ([][]string, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("pattern must be a list")
	}
	out := make([][]string, 0, list.Len())
	iter := list.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		switch e := elem.(type) {
		case starlark.String:
			out = append(out, []string{string(e)})
		case *starlark.List:
			alts, err := toStringSlice(e)
			if err != nil {
				return nil, err
			}
			out = append(out, alts)
		default:
			return nil, fmt.Errorf("pattern element must be a string or list of strings")
		}
	}
	return out, nil
}

func toStringSlice(v starlark.Value) ([]string, error) {
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("expected a list")
	}
	out := make([]string, 0, list.Len())
	iter := list.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		s, ok := elem.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("expected a string element")
		}
		out = append(out, string(s))
	}
	return out, nil
}

func toExampleList(v starlark.Value) ([][]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("must be a list of argv lists")
	}
	out := make([][]string, 0, list.Len())
	iter := list.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		argv, err := toStringSlice(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, argv)
	}
	return out, nil
}

// Build finalizes the parsed rules into an immutable Policy.
func (p *Parser) Build() *Policy {
	return &Policy{rules: append([]Rule(nil), p.rules...)}
}
