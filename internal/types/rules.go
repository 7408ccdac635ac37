// internal/types/rules.go
package types

import "time"

/*
 * Domain types for detection rules.
 *
 * DetectionRule is the operator-facing rule definition: a fixed schema of
 * class allow-list, score threshold, zone lists, and notifier references.
 * It is loaded from YAML or the rules table and compiled by internal/rules.
 *
 * Enumerations are string-backed so the same values round-trip through
 * YAML, SQL columns and JSON telemetry without translation tables.
 */

// RuleSource records where a rule was defined.
type RuleSource string

const (
	// SourceDevice rules are scoped to the devices they list.
	SourceDevice RuleSource = "device"
	// SourcePlugin rules are global and apply to every attached device
	// unless Devices narrows them.
	SourcePlugin RuleSource = "plugin"
)

// Priority is the notification urgency requested by a rule.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Value maps the priority onto the numeric scale push services use.
// Unknown priorities map to Normal.
func (p Priority) Value() int {
	switch p {
	case PriorityLow:
		return -1
	case PriorityHigh:
		return 1
	default:
		return 0
	}
}

// Activation controls whether a rule depends on the device being enabled
// for notifications.
type Activation string

const (
	ActivationAlways   Activation = "always"
	ActivationOnActive Activation = "on_active"
)

// RuleAction is an actionable button attached to rich notifications.
type RuleAction struct {
	Action string `json:"action" yaml:"action"`
	Title  string `json:"title" yaml:"title"`
	URI    string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Icon   string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// DetectionRule is a named condition set deciding whether a detection is
// notification-worthy. Read-only to the engine during evaluation.
type DetectionRule struct {
	ID               RuleID             `json:"id" yaml:"id"`
	Name             string             `json:"name" yaml:"name"`
	Source           RuleSource         `json:"source" yaml:"source"`
	Devices          []DeviceID         `json:"devices,omitempty" yaml:"devices,omitempty"`
	DetectionClasses []string           `json:"detectionClasses,omitempty" yaml:"detection_classes,omitempty"`
	ScoreThreshold   *float64           `json:"scoreThreshold,omitempty" yaml:"score_threshold,omitempty"`
	ClassThresholds  map[string]float64 `json:"classThresholds,omitempty" yaml:"class_thresholds,omitempty"`
	WhitelistedZones []string           `json:"whitelistedZones,omitempty" yaml:"whitelisted_zones,omitempty"`
	BlacklistedZones []string           `json:"blacklistedZones,omitempty" yaml:"blacklisted_zones,omitempty"`
	AlwaysZones      []string           `json:"alwaysZones,omitempty" yaml:"always_zones,omitempty"`
	Notifiers        []string           `json:"notifiers,omitempty" yaml:"notifiers,omitempty"`
	CustomText       string             `json:"customText,omitempty" yaml:"custom_text,omitempty"`
	Priority         Priority           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Activation       Activation         `json:"activation,omitempty" yaml:"activation,omitempty"`
	Actions          []RuleAction       `json:"actions,omitempty" yaml:"actions,omitempty"`
	MinDelay         *time.Duration     `json:"minDelay,omitempty" yaml:"min_delay,omitempty"`
	Disabled         bool               `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// AppliesTo reports whether the rule is in scope for device id.
// Plugin rules with no device list apply everywhere.
func (r *DetectionRule) AppliesTo(id DeviceID) bool {
	if len(r.Devices) == 0 {
		return r.Source == SourcePlugin
	}
	for _, d := range r.Devices {
		if d == id {
			return true
		}
	}
	return false
}
