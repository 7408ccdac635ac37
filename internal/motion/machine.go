// Package motion tracks the per-device "motion active" state.
//
// A device is Inactive until a qualifying match triggers it. While Active it
// holds exactly one release token: a timer plus a subscription to the
// device's own motion-end signal. Whichever fires first releases the device
// and cancels the other. Re-triggering replaces the token, extending the
// window without publishing a second "active".
package motion

import (
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/watchkeeper/internal/types"
)

// State of a device's motion machine.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// StatePublisher mirrors state transitions. Implementations must not block.
type StatePublisher interface {
	PublishState(device types.DeviceID, active bool, detail *types.StateDetail)
}

// Release causes.
const (
	ReleaseTimeout = "timeout"
	ReleaseDevice  = "device"
)

// Observer is notified after each transition. Optional.
type Observer func(device types.DeviceID, state State, cause string)

// releaseToken is the one-shot cancel handle shared by a timer and a
// listener. cancel runs at most once no matter who calls it.
type releaseToken struct {
	gen         uint64
	once        sync.Once
	timer       Timer
	unsubscribe func()
}

func (t *releaseToken) cancel() {
	t.once.Do(func() {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.unsubscribe != nil {
			t.unsubscribe()
		}
	})
}

// Machine is the motion state of one device.
type Machine struct {
	device    types.DeviceID
	clock     Clock
	signals   Signals
	publisher StatePublisher
	observer  Observer
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	token    *releaseToken
	deadline time.Time
	closed   bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the system clock.
func WithClock(c Clock) Option { return func(m *Machine) { m.clock = c } }

// WithSignals sets the device end-signal source. Without one only the
// timer releases the device.
func WithSignals(s Signals) Option { return func(m *Machine) { m.signals = s } }

// WithObserver registers a transition callback.
func WithObserver(o Observer) Option { return func(m *Machine) { m.observer = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.logger = l } }

// NewMachine creates an Inactive machine for device.
func NewMachine(device types.DeviceID, publisher StatePublisher, opts ...Option) *Machine {
	m := &Machine{
		device:    device,
		clock:     SystemClock(),
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Trigger records a qualifying match. The previous token, if any, is
// cancelled before a new one is armed for hold. "active" is published only
// on the Inactive to Active transition. Returns true when that transition
// happened.
func (m *Machine) Trigger(hold time.Duration, detail *types.StateDetail) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	if m.token != nil {
		m.token.cancel()
		m.token = nil
	}

	m.gen++
	tok := &releaseToken{gen: m.gen}
	tok.timer = m.clock.AfterFunc(hold, func() { m.release(tok, ReleaseTimeout) })
	if m.signals != nil {
		tok.unsubscribe = m.signals.Subscribe(m.device, func(motion bool) {
			if !motion {
				m.release(tok, ReleaseDevice)
			}
		})
	}
	m.token = tok
	m.deadline = m.clock.Now().Add(hold)

	if m.state == Active {
		m.logger.Debug("motion rearmed", "device", m.device, "deadline", m.deadline)
		return false
	}

	m.state = Active
	m.logger.Info("motion active", "device", m.device, "hold", hold)
	if m.publisher != nil {
		m.publisher.PublishState(m.device, true, detail)
	}
	if m.observer != nil {
		m.observer(m.device, Active, "")
	}
	return true
}

// release is invoked by a token's timer or listener. A token that is no
// longer current is ignored, so the loser of the race is a no-op.
func (m *Machine) release(tok *releaseToken, cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.token != tok || tok.gen != m.gen {
		return
	}

	tok.cancel()
	m.token = nil
	m.state = Inactive
	m.deadline = time.Time{}

	m.logger.Info("motion released", "device", m.device, "cause", cause)
	if m.publisher != nil {
		m.publisher.PublishState(m.device, false, nil)
	}
	if m.observer != nil {
		m.observer(m.device, Inactive, cause)
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active reports whether the device is in the Active state.
func (m *Machine) Active() bool {
	return m.State() == Active
}

// Deadline returns when the pending release timer fires. Zero when Inactive.
func (m *Machine) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// Close cancels the pending timer and listener together. No state is
// published. Triggers after Close are ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	if m.token != nil {
		m.token.cancel()
		m.token = nil
	}
	m.state = Inactive
	m.deadline = time.Time{}
}
