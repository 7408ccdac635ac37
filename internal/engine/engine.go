// Package engine runs the detection pipeline for every attached device.
//
// Each attached device owns a motion machine and a rate-limit ledger and
// serializes its own batches behind a per-device mutex. Batches for
// different devices run concurrently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/solatis/watchkeeper/internal/ingest"
	"github.com/solatis/watchkeeper/internal/metrics"
	"github.com/solatis/watchkeeper/internal/motion"
	"github.com/solatis/watchkeeper/internal/notify"
	"github.com/solatis/watchkeeper/internal/ratelimit"
	"github.com/solatis/watchkeeper/internal/snapshot"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/telemetry"
	"github.com/solatis/watchkeeper/internal/types"
)

// Config holds the global fallbacks used when neither rule nor device
// settings override a value.
type Config struct {
	MinDelay                  time.Duration
	ScoreThreshold            float64
	IgnoreUnboundedDetections bool
	SnapshotSize              types.SizeHint
}

// DefaultEngineConfig returns the stock fallbacks.
func DefaultEngineConfig() Config {
	return Config{
		MinDelay:       types.DefaultMinDelay,
		ScoreThreshold: types.DefaultScoreThreshold,
		SnapshotSize:   types.SizeHint{Width: types.DefaultSnapshotWidth, Height: types.DefaultSnapshotHeight},
	}
}

// Auditor persists dispatch outcomes.
type Auditor interface {
	RecordDispatch(ctx context.Context, recs ...store.DispatchRecord) error
}

// Engine is the per-device state registry plus the shared collaborators.
type Engine struct {
	cfg         Config
	store       *store.Store
	dispatcher  *notify.Dispatcher
	snapshotter snapshot.Snapshotter
	publisher   telemetry.Publisher
	auditor     Auditor
	journal     *ingest.Journal
	metrics     *metrics.Metrics
	clock       motion.Clock
	hub         *motion.Hub
	limiter     *ratelimit.Limiter
	logger      *slog.Logger

	mu      sync.RWMutex
	devices map[types.DeviceID]*device
	closed  bool
}

// device is the registry entry of one attached device.
type device struct {
	id      types.DeviceID
	mu      sync.Mutex
	machine *motion.Machine
	ledger  *ratelimit.Ledger
	last    *types.Image
}

// Option configures an Engine.
type Option func(*Engine)

// WithSnapshotter sets the camera used for pass snapshots.
func WithSnapshotter(s snapshot.Snapshotter) Option { return func(e *Engine) { e.snapshotter = s } }

// WithPublisher sets the telemetry mirror.
func WithPublisher(p telemetry.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithAuditor records every notifier outcome.
func WithAuditor(a Auditor) Option { return func(e *Engine) { e.auditor = a } }

// WithJournal appends a report of every pass that matched.
func WithJournal(j *ingest.Journal) Option { return func(e *Engine) { e.journal = j } }

// WithMetrics sets the counter set.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides the clock driving release timers and undated batches.
func WithClock(c motion.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an engine reading configuration from st.
func New(cfg Config, st *store.Store, d *notify.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		publisher:  telemetry.Nop{},
		clock:      motion.SystemClock(),
		hub:        motion.NewHub(),
		limiter:    ratelimit.NewLimiter(),
		logger:     slog.Default(),
		devices:    make(map[types.DeviceID]*device),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.SnapshotSize == (types.SizeHint{}) {
		e.cfg.SnapshotSize = DefaultEngineConfig().SnapshotSize
	}
	return e
}

// Attach creates the registry entry for id. The rate-limit ledger of a
// previously detached device is reused.
func (e *Engine) Attach(id types.DeviceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return types.ErrEngineClosed
	}
	if _, ok := e.devices[id]; ok {
		return fmt.Errorf("%w: %s", types.ErrDeviceAttached, id)
	}

	e.devices[id] = &device{
		id:     id,
		ledger: e.limiter.Ledger(id),
		machine: motion.NewMachine(id, e.publisher,
			motion.WithClock(e.clock),
			motion.WithSignals(e.hub),
			motion.WithObserver(e.observeMotion),
			motion.WithLogger(e.logger),
		),
	}
	e.metrics.Attached(len(e.devices))
	e.logger.Info("device attached", "device", id)
	return nil
}

// Detach tears down id's motion machine. The pending timer and listener are
// cancelled together and no state is published.
func (e *Engine) Detach(id types.DeviceID) error {
	e.mu.Lock()
	d, ok := e.devices[id]
	if ok {
		delete(e.devices, id)
	}
	n := len(e.devices)
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", types.ErrDeviceNotAttached, id)
	}

	// Wait for an in-flight pass so it does not trigger a closed machine
	// halfway through.
	d.mu.Lock()
	d.machine.Close()
	d.mu.Unlock()

	e.metrics.Attached(n)
	e.logger.Info("device detached", "device", id)
	return nil
}

// Attached returns the attached device ids in sorted order.
func (e *Engine) Attached() []types.DeviceID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]types.DeviceID, 0, len(e.devices))
	for id := range e.devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsAttached reports whether id has a registry entry.
func (e *Engine) IsAttached(id types.DeviceID) bool {
	_, ok := e.lookup(id)
	return ok
}

// MotionState returns id's motion state.
func (e *Engine) MotionState(id types.DeviceID) (motion.State, bool) {
	d, ok := e.lookup(id)
	if !ok {
		return motion.Inactive, false
	}
	return d.machine.State(), true
}

// LastFired returns when identity last fired on id.
func (e *Engine) LastFired(id types.DeviceID, identity string) (time.Time, bool) {
	d, ok := e.lookup(id)
	if !ok {
		return time.Time{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.Last(identity)
}

// LastSnapshot returns the most recent pass snapshot of id.
func (e *Engine) LastSnapshot(id types.DeviceID) (*types.Image, bool) {
	d, ok := e.lookup(id)
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.last != nil
}

// HandleMotion routes a device motion signal to the machine listening for it.
func (e *Engine) HandleMotion(sig types.MotionSignal) {
	e.hub.Publish(sig)
}

// Close detaches every device.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	ids := make([]types.DeviceID, 0, len(e.devices))
	for id := range e.devices {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.Detach(id)
	}
}

func (e *Engine) lookup(id types.DeviceID) (*device, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.devices[id]
	return d, ok
}

func (e *Engine) observeMotion(id types.DeviceID, state motion.State, cause string) {
	e.metrics.Motion(string(id), state == motion.Active)
}
