// internal/rules/compile.go
package rules

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/solatis/watchkeeper/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles types.DetectionRule to CompiledRule with normalized class and
 * zone sets, resolved defaults, and validated enumerations.
 *
 * Compilation workflow:
 *   1. Validate identity and scope (id, source, device list)
 *   2. Resolve allow-list entries through the class taxonomy
 *   3. Validate thresholds and delays
 *   4. Deduplicate zone lists (order preserved for matching-zone reporting)
 *   5. Default priority (normal) and activation (always)
 *
 * Validation happens once, when the rule set is loaded. A rule that fails
 * is rejected with a ConfigError; the remaining rules compile normally.
 *
 * Rule order: CompileAll preserves stored order. The evaluator relies on it
 * because the first satisfying candidate per rule wins.
 */

// CompiledRule is a validated rule ready for evaluation.
type CompiledRule struct {
	ID               types.RuleID
	Name             string
	Source           types.RuleSource
	Devices          []types.DeviceID
	Classes          []Class // empty = any mapped class
	Threshold        *float64
	ClassThresholds  map[Class]float64
	WhitelistedZones []string
	BlacklistedZones []string
	AlwaysZones      []string
	Notifiers        []string
	CustomText       string
	Priority         types.Priority
	Activation       types.Activation
	Actions          []types.RuleAction
	MinDelay         *time.Duration
}

// CompileOptions tunes validation. A nil Notifiers skips reference checks.
type CompileOptions struct {
	Notifiers []string
}

// AllowsClass reports whether c passes the rule's class allow-list.
func (r *CompiledRule) AllowsClass(c Class) bool {
	return len(r.Classes) == 0 || lo.Contains(r.Classes, c)
}

// ThresholdFor resolves the score threshold for class c:
// per-class override > rule threshold > fallback.
func (r *CompiledRule) ThresholdFor(c Class, fallback float64) float64 {
	if t, ok := r.ClassThresholds[c]; ok {
		return t
	}
	if r.Threshold != nil {
		return *r.Threshold
	}
	return fallback
}

// AppliesTo reports whether the rule is in scope for device id.
func (r *CompiledRule) AppliesTo(id types.DeviceID) bool {
	if len(r.Devices) == 0 {
		return r.Source == types.SourcePlugin
	}
	return lo.Contains(r.Devices, id)
}

// Compile validates and pre-processes a rule for evaluation.
func Compile(rule *types.DetectionRule, opts CompileOptions) (*CompiledRule, error) {
	id, err := types.ParseRuleID(string(rule.ID))
	if err != nil {
		return nil, types.NewConfigError(rule.ID, "id", err)
	}

	compiled := &CompiledRule{
		ID:               id,
		Name:             rule.Name,
		Source:           rule.Source,
		Devices:          lo.Uniq(rule.Devices),
		WhitelistedZones: lo.Uniq(rule.WhitelistedZones),
		BlacklistedZones: lo.Uniq(rule.BlacklistedZones),
		AlwaysZones:      lo.Uniq(rule.AlwaysZones),
		Notifiers:        lo.Uniq(rule.Notifiers),
		CustomText:       rule.CustomText,
		Priority:         rule.Priority,
		Activation:       rule.Activation,
		Actions:          rule.Actions,
		MinDelay:         rule.MinDelay,
	}
	if compiled.Name == "" {
		compiled.Name = string(id)
	}

	switch compiled.Source {
	case "":
		compiled.Source = types.SourcePlugin
		if len(compiled.Devices) > 0 {
			compiled.Source = types.SourceDevice
		}
	case types.SourceDevice:
		if len(compiled.Devices) == 0 {
			return nil, types.NewConfigError(id, "devices", types.ErrDeviceScopeMissing)
		}
	case types.SourcePlugin:
	default:
		return nil, types.NewConfigError(id, "source", fmt.Errorf("%w: %q", types.ErrInvalidSource, rule.Source))
	}

	for _, raw := range rule.DetectionClasses {
		c, ok := MapClass(raw)
		if !ok {
			return nil, types.NewConfigError(id, "detection_classes", fmt.Errorf("%w: %q", types.ErrUnknownClass, raw))
		}
		compiled.Classes = append(compiled.Classes, c)
	}
	compiled.Classes = lo.Uniq(compiled.Classes)

	if rule.ScoreThreshold != nil {
		if !validThreshold(*rule.ScoreThreshold) {
			return nil, types.NewConfigError(id, "score_threshold", types.ErrInvalidThreshold)
		}
		t := *rule.ScoreThreshold
		compiled.Threshold = &t
	}

	if len(rule.ClassThresholds) > 0 {
		compiled.ClassThresholds = make(map[Class]float64, len(rule.ClassThresholds))
		for raw, t := range rule.ClassThresholds {
			c, ok := MapClass(raw)
			if !ok {
				return nil, types.NewConfigError(id, "class_thresholds", fmt.Errorf("%w: %q", types.ErrUnknownClass, raw))
			}
			if !validThreshold(t) {
				return nil, types.NewConfigError(id, "class_thresholds", types.ErrInvalidThreshold)
			}
			compiled.ClassThresholds[c] = t
		}
	}

	switch compiled.Priority {
	case "":
		compiled.Priority = types.PriorityNormal
	case types.PriorityLow, types.PriorityNormal, types.PriorityHigh:
	default:
		return nil, types.NewConfigError(id, "priority", fmt.Errorf("%w: %q", types.ErrInvalidPriority, rule.Priority))
	}

	switch compiled.Activation {
	case "":
		compiled.Activation = types.ActivationAlways
	case types.ActivationAlways, types.ActivationOnActive:
	default:
		return nil, types.NewConfigError(id, "activation", fmt.Errorf("%w: %q", types.ErrInvalidActivation, rule.Activation))
	}

	if rule.MinDelay != nil && *rule.MinDelay < 0 {
		return nil, types.NewConfigError(id, "min_delay", types.ErrInvalidDelay)
	}

	if opts.Notifiers != nil {
		for _, n := range compiled.Notifiers {
			if !lo.Contains(opts.Notifiers, n) {
				return nil, types.NewConfigError(id, "notifiers", fmt.Errorf("%w: %q", types.ErrUnknownNotifier, n))
			}
		}
	}

	return compiled, nil
}

// CompileAll compiles rules in stored order. Disabled rules are skipped.
// Rules that fail validation, including later duplicates of an id, are
// returned as errors and left out of the compiled set.
func CompileAll(rules []types.DetectionRule, opts CompileOptions) ([]*CompiledRule, []error) {
	compiled := make([]*CompiledRule, 0, len(rules))
	var rejected []error
	seen := make(map[types.RuleID]struct{}, len(rules))

	for i := range rules {
		if rules[i].Disabled {
			continue
		}
		if _, dup := seen[rules[i].ID]; dup {
			rejected = append(rejected, types.NewConfigError(rules[i].ID, "id", types.ErrDuplicateRuleID))
			continue
		}
		cr, err := Compile(&rules[i], opts)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		seen[cr.ID] = struct{}{}
		compiled = append(compiled, cr)
	}

	return compiled, rejected
}

func validThreshold(t float64) bool {
	return t >= 0 && t <= 1
}
