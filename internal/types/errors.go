package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for WatchKeeper operations.
var (
	// ErrClassNotMapped indicates a detection class outside the taxonomy.
	ErrClassNotMapped = errors.New("detection class not mapped")

	// ErrMissingRuleID indicates a rule without an identifier.
	ErrMissingRuleID = errors.New("rule id is required")

	// ErrInvalidRuleID indicates a malformed rule identifier.
	ErrInvalidRuleID = errors.New("rule id is malformed")

	// ErrDuplicateRuleID indicates two rules share an identifier.
	ErrDuplicateRuleID = errors.New("duplicate rule id")

	// ErrInvalidThreshold indicates a score threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("score threshold must be within [0, 1]")

	// ErrUnknownClass indicates a rule allow-list entry outside the taxonomy.
	ErrUnknownClass = errors.New("unknown detection class")

	// ErrInvalidSource indicates an unknown rule source.
	ErrInvalidSource = errors.New("invalid rule source")

	// ErrInvalidPriority indicates an unknown priority.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidActivation indicates an unknown activation mode.
	ErrInvalidActivation = errors.New("invalid activation")

	// ErrInvalidDelay indicates a negative minimum delay.
	ErrInvalidDelay = errors.New("min delay must not be negative")

	// ErrDeviceScopeMissing indicates a device-sourced rule naming no device.
	ErrDeviceScopeMissing = errors.New("device rule must name at least one device")

	// ErrDeviceNotAttached indicates an event for a device with no registry entry.
	ErrDeviceNotAttached = errors.New("device not attached")

	// ErrDeviceAttached indicates a second Attach for the same device.
	ErrDeviceAttached = errors.New("device already attached")

	// ErrUnknownNotifier indicates a rule references an unconfigured notifier.
	ErrUnknownNotifier = errors.New("unknown notifier")

	// ErrCoercionFailed indicates a payload field of the wrong type.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrMalformedPayload indicates a detector message that cannot be decoded.
	ErrMalformedPayload = errors.New("malformed detector payload")

	// ErrEngineClosed indicates use of the engine after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// ConfigError rejects a single rule. Evaluation of other rules continues.
type ConfigError struct {
	RuleID RuleID
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
	}
	return fmt.Sprintf("rule %s: %s: %v", e.RuleID, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a rule configuration error.
func NewConfigError(id RuleID, field string, err error) *ConfigError {
	return &ConfigError{RuleID: id, Field: field, Err: err}
}

// TransientError marks a failed call to an external collaborator
// (snapshot, sink, telemetry). Never retried in-band; the next natural
// event is the retry.
type TransientError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// WrapTransient wraps err as transient. Returns nil for nil err.
func WrapTransient(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Target: target, Err: err}
}

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
