// internal/rules/evaluate.go
package rules

import (
	"github.com/solatis/watchkeeper/internal/types"
)

/*
 * Rule evaluation.
 *
 * Walks compiled rules in stored order. For each rule, candidates are tried
 * in filtered order and the first one passing every gate becomes the rule's
 * match. Rules are independent: one candidate may match several rules.
 *
 * Gates, in order (first failure rejects the candidate for this rule):
 *   1. Bounding box (only when unbounded detections are ignored)
 *   2. Class mapping through the taxonomy
 *   3. Class allow-list (empty = any)
 *   4. Score: absent, or strictly greater than the resolved threshold
 *   5. Zones: isAlways || (isIncluded && !isExcluded)
 *
 * Every candidate/rule pair produces an immutable Trace value. Traces are
 * returned with the verdict instead of being accumulated in shared state,
 * so diagnostics from one rule never leak into another.
 *
 * Evaluation is pure and never blocks; rate limiting is applied by the
 * caller after matches are known.
 */

// Reason names the gate that rejected a candidate. Empty means it passed.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonUnbounded Reason = "unbounded"
	ReasonUnmapped  Reason = "unmapped"
	ReasonClass     Reason = "class"
	ReasonScore     Reason = "score"
	ReasonZone      Reason = "zone"
)

// Options carries per-device evaluation settings.
type Options struct {
	IgnoreUnboundedDetections bool
	// DefaultScoreThreshold applies when neither the rule nor a per-class
	// override sets one (device setting, else global default).
	DefaultScoreThreshold float64
}

// Trace records how one candidate fared against one rule.
type Trace struct {
	RuleID    types.RuleID
	Candidate int
	ClassName string
	Class     Class
	Score     *float64
	Threshold float64
	Zones     ZoneVerdict
	Reason    Reason
}

// Passed reports whether every gate passed.
func (t Trace) Passed() bool {
	return t.Reason == ReasonNone
}

// MatchRule is the ephemeral result of one rule matching one candidate.
type MatchRule struct {
	Detection    types.DetectionResult
	Class        Class
	Rule         *CompiledRule
	MatchingZone string
	Trace        Trace
}

// Outcome is the full evaluation of one rule: the traces of every
// candidate tried and the match, if any.
type Outcome struct {
	Rule   *CompiledRule
	Match  *MatchRule
	Traces []Trace
}

// Check runs all gates for a single candidate against a rule.
func Check(rule *CompiledRule, idx int, d types.DetectionResult, opts Options) Trace {
	t := Trace{
		RuleID:    rule.ID,
		Candidate: idx,
		ClassName: d.ClassName,
		Score:     d.Score,
	}

	if opts.IgnoreUnboundedDetections && !d.HasBoundingBox {
		t.Reason = ReasonUnbounded
		return t
	}

	class, ok := MapClass(d.ClassName)
	if !ok {
		t.Reason = ReasonUnmapped
		return t
	}
	t.Class = class

	if !rule.AllowsClass(class) {
		t.Reason = ReasonClass
		return t
	}

	t.Threshold = rule.ThresholdFor(class, opts.DefaultScoreThreshold)
	if d.Score != nil && !(*d.Score > t.Threshold) {
		t.Reason = ReasonScore
		return t
	}

	t.Zones = ZoneGate(d.Zones, rule)
	if !t.Zones.Passed() {
		t.Reason = ReasonZone
	}
	return t
}

// EvaluateRule finds the first candidate satisfying rule.
func EvaluateRule(rule *CompiledRule, candidates []types.DetectionResult, opts Options) Outcome {
	out := Outcome{Rule: rule, Traces: make([]Trace, 0, len(candidates))}
	for i, d := range candidates {
		t := Check(rule, i, d, opts)
		out.Traces = append(out.Traces, t)
		if t.Passed() {
			out.Match = &MatchRule{
				Detection:    d,
				Class:        t.Class,
				Rule:         rule,
				MatchingZone: t.Zones.MatchingZone,
				Trace:        t,
			}
			break
		}
	}
	return out
}

// EvaluateAll evaluates every rule in order and returns one Outcome each.
func EvaluateAll(candidates []types.DetectionResult, rules []*CompiledRule, opts Options) []Outcome {
	outcomes := make([]Outcome, 0, len(rules))
	for _, r := range rules {
		outcomes = append(outcomes, EvaluateRule(r, candidates, opts))
	}
	return outcomes
}

// Evaluate returns at most one MatchRule per rule, in rule order.
func Evaluate(candidates []types.DetectionResult, rules []*CompiledRule, opts Options) []MatchRule {
	var matches []MatchRule
	for _, r := range rules {
		if out := EvaluateRule(r, candidates, opts); out.Match != nil {
			matches = append(matches, *out.Match)
		}
	}
	return matches
}
