package rules

import (
	"github.com/solatis/watchkeeper/internal/types"
)

// RuleSet is an immutable compiled snapshot of all configured rules.
// A new RuleSet replaces the old one wholesale; a pass that already holds a
// RuleSet keeps evaluating against it.
type RuleSet struct {
	rules    []*CompiledRule
	rejected []error
}

// NewRuleSet compiles rules into a snapshot. Rejected rules are kept as
// errors for reporting; they never block the rest of the set.
func NewRuleSet(rules []types.DetectionRule, opts CompileOptions) *RuleSet {
	compiled, rejected := CompileAll(rules, opts)
	return &RuleSet{rules: compiled, rejected: rejected}
}

// Rules returns all compiled rules in stored order.
func (s *RuleSet) Rules() []*CompiledRule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Rejected returns the ConfigErrors produced while compiling.
func (s *RuleSet) Rejected() []error {
	if s == nil {
		return nil
	}
	return s.rejected
}

// ForDevice returns the rules in scope for id, preserving stored order.
func (s *RuleSet) ForDevice(id types.DeviceID) []*CompiledRule {
	if s == nil {
		return nil
	}
	var out []*CompiledRule
	for _, r := range s.rules {
		if r.AppliesTo(id) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of compiled rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
