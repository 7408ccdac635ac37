// Package ratelimit suppresses repeat notifications for the same detection
// identity on the same device within a minimum interval.
//
// Ledgers are per device and not safe for concurrent use; the engine
// serializes each device's pipeline, so only that pipeline touches its
// ledger. Limiter is the concurrent registry handing ledgers out.
package ratelimit

import (
	"sync"
	"time"

	"github.com/solatis/watchkeeper/internal/types"
)

// Identity derives the rate-limit key className[-label] for a detection.
// The raw detector class is used so "car" and "truck" limit separately.
func Identity(d types.DetectionResult) string {
	if d.Label == "" {
		return d.ClassName
	}
	return d.ClassName + "-" + d.Label
}

// ResolveMinDelay applies rule > device > global precedence.
func ResolveMinDelay(rule, device *time.Duration, global time.Duration) time.Duration {
	if rule != nil {
		return *rule
	}
	if device != nil {
		return *device
	}
	return global
}

// Ledger maps identity to last-fired time for one device.
// Entries only move forward and are never deleted.
type Ledger struct {
	last map[string]time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{last: make(map[string]time.Time)}
}

// Allow reports whether identity may fire at now.
func (l *Ledger) Allow(identity string, now time.Time, minDelay time.Duration) bool {
	last, ok := l.last[identity]
	if !ok {
		return true
	}
	return now.Sub(last) >= minDelay
}

// Record stores now for identity unless an equal or later time is present.
func (l *Ledger) Record(identity string, now time.Time) {
	if last, ok := l.last[identity]; ok && !now.After(last) {
		return
	}
	l.last[identity] = now
}

// Last returns the last-fired time for identity.
func (l *Ledger) Last(identity string) (time.Time, bool) {
	t, ok := l.last[identity]
	return t, ok
}

// Len returns the number of identities ever recorded.
func (l *Ledger) Len() int {
	return len(l.last)
}

// Begin starts one evaluation pass at now.
func (l *Ledger) Begin(now time.Time) *Pass {
	return &Pass{
		ledger:    l,
		now:       now,
		decisions: make(map[string]bool),
		recorded:  make(map[string]struct{}),
	}
}

// Pass scopes ledger access to one batch. The allow decision for an
// identity is taken on first ask and reused for every later rule in the
// pass, and Record charges the ledger at most once per identity, so one
// physical event matched by several rules is counted once.
type Pass struct {
	ledger    *Ledger
	now       time.Time
	decisions map[string]bool
	recorded  map[string]struct{}
}

// Now returns the pass timestamp.
func (p *Pass) Now() time.Time {
	return p.now
}

// Allow returns the memoized decision for identity. The first caller's
// minDelay decides for the rest of the pass.
func (p *Pass) Allow(identity string, minDelay time.Duration) bool {
	if ok, seen := p.decisions[identity]; seen {
		return ok
	}
	ok := p.ledger.Allow(identity, p.now, minDelay)
	p.decisions[identity] = ok
	return ok
}

// Record charges identity once per pass. It reports whether this call wrote.
func (p *Pass) Record(identity string) bool {
	if _, done := p.recorded[identity]; done {
		return false
	}
	p.recorded[identity] = struct{}{}
	p.ledger.Record(identity, p.now)
	return true
}

// Limiter is a registry of per-device ledgers.
type Limiter struct {
	mu      sync.Mutex
	ledgers map[types.DeviceID]*Ledger
}

// NewLimiter creates an empty registry.
func NewLimiter() *Limiter {
	return &Limiter{ledgers: make(map[types.DeviceID]*Ledger)}
}

// Ledger returns the ledger for id, creating it on first use.
// Ledgers survive detach so a quickly re-attached device keeps its history.
func (l *Limiter) Ledger(id types.DeviceID) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	ledger, ok := l.ledgers[id]
	if !ok {
		ledger = NewLedger()
		l.ledgers[id] = ledger
	}
	return ledger
}

// Allow checks identity on device id. The caller must own the device's
// pipeline (see package doc).
func (l *Limiter) Allow(id types.DeviceID, identity string, now time.Time, minDelay time.Duration) bool {
	return l.Ledger(id).Allow(identity, now, minDelay)
}

// Record charges identity on device id.
func (l *Limiter) Record(id types.DeviceID, identity string, now time.Time) {
	l.Ledger(id).Record(identity, now)
}
