package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/watchkeeper/internal/ingest"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/types"
)

// Watcher keeps device subscriptions in line with configuration. Store
// change notifications drive it; a periodic pass catches anything missed.
type Watcher struct {
	engine   *Engine
	store    *store.Store
	source   ingest.Source
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	unsub map[types.DeviceID]func()
	ready atomic.Bool
}

// NewWatcher creates a watcher. A nil source attaches devices without
// subscribing; batches then arrive through Engine.ProcessBatch directly.
func NewWatcher(e *Engine, st *store.Store, src ingest.Source, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		engine:   e,
		store:    st,
		source:   src,
		interval: interval,
		logger:   logger,
		ctx:      context.Background(),
		unsub:    make(map[types.DeviceID]func()),
	}
}

// Ready reports whether the first reconcile completed.
func (w *Watcher) Ready() bool {
	return w.ready.Load()
}

// Run reconciles now, then on every store change and every interval, until
// ctx is done. All subscriptions are stopped on return.
func (w *Watcher) Run(ctx context.Context) error {
	changes, cancel := w.store.Subscribe()
	defer cancel()

	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	w.Reconcile(w.store.Current())

	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return ctx.Err()
		case <-changes:
			w.Reconcile(w.store.Current())
		case <-tick:
			w.Reconcile(w.store.Current())
		}
	}
}

// Reconcile attaches and subscribes every device that wants events and
// detaches the rest. It is idempotent.
func (w *Watcher) Reconcile(snap *store.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.engine.metrics.Rules(snap.Rules.Len(), len(snap.Rules.Rejected()))

	desired := make(map[types.DeviceID]struct{})
	for _, id := range snap.DeviceIDs() {
		settings, _ := snap.Device(id)
		if wantsEvents(snap, settings) {
			desired[id] = struct{}{}
		}
	}

	for _, id := range w.engine.Attached() {
		if _, ok := desired[id]; ok {
			continue
		}
		if stop, ok := w.unsub[id]; ok {
			stop()
			delete(w.unsub, id)
		}
		if err := w.engine.Detach(id); err != nil {
			w.logger.Warn("detach failed", "device", id, "error", err)
		}
	}

	for _, id := range snap.DeviceIDs() {
		if _, ok := desired[id]; !ok || w.engine.IsAttached(id) {
			continue
		}
		if err := w.engine.Attach(id); err != nil && !errors.Is(err, types.ErrDeviceAttached) {
			w.logger.Warn("attach failed", "device", id, "error", err)
			continue
		}
		if w.source == nil {
			continue
		}
		stop, err := w.source.Subscribe(id, w.handlers(id))
		if err != nil {
			// Left detached so the next pass retries the subscription.
			w.logger.Warn("subscribe failed", "device", id, "error", err)
			_ = w.engine.Detach(id)
			continue
		}
		w.unsub[id] = stop
	}

	w.ready.Store(true)
}

func (w *Watcher) handlers(id types.DeviceID) ingest.Handlers {
	ctx := w.ctx
	return ingest.Handlers{
		Detections: func(b types.DetectionBatch) {
			report, err := w.engine.ProcessBatch(ctx, b)
			if err != nil {
				w.logger.Debug("batch not processed", "device", id, "error", err)
				return
			}
			if report.Dispatched() > 0 {
				w.logger.Debug("pass complete", "device", id, "matches", len(report.Matches))
			}
		},
		Motion: w.engine.HandleMotion,
	}
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, stop := range w.unsub {
		stop()
		delete(w.unsub, id)
	}
}

// wantsEvents decides whether a device needs an event subscription: it
// must be in scope of at least one rule or have detection reporting on.
func wantsEvents(snap *store.Snapshot, settings types.DeviceSettings) bool {
	if settings.ReportDetections {
		return true
	}
	return len(snap.Rules.ForDevice(settings.ID)) > 0
}
