// Package store holds the rule and device configuration the engine reads.
//
// A Store publishes immutable snapshots. Evaluation passes load the current
// snapshot once and keep it for the whole pass, so a reload never changes
// rules mid-flight. Subscribers are told that a new snapshot exists; they
// read it with Current.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/types"
)

// Snapshot is one published configuration. Never modify it.
type Snapshot struct {
	Rules    *rules.RuleSet
	Devices  map[types.DeviceID]types.DeviceSettings
	Version  uint64
	LoadedAt time.Time
}

// Device returns the settings for id.
func (s *Snapshot) Device(id types.DeviceID) (types.DeviceSettings, bool) {
	d, ok := s.Devices[id]
	return d, ok
}

// DeviceIDs returns the configured device ids in sorted order.
func (s *Snapshot) DeviceIDs() []types.DeviceID {
	ids := make([]types.DeviceID, 0, len(s.Devices))
	for id := range s.Devices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Store owns the current snapshot.
type Store struct {
	cur    atomic.Pointer[Snapshot]
	opts   rules.CompileOptions
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// New returns a Store holding an empty snapshot. opts applies to every
// rule set compiled by Replace.
func New(opts rules.CompileOptions, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		opts:   opts,
		logger: logger,
		subs:   make(map[int]chan struct{}),
	}
	s.cur.Store(&Snapshot{
		Rules:   rules.NewRuleSet(nil, opts),
		Devices: map[types.DeviceID]types.DeviceSettings{},
	})
	return s
}

// Current returns the published snapshot.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Replace compiles defs and publishes them with devices. Rejected rules are
// logged once here and left out of the snapshot.
func (s *Store) Replace(defs []types.DetectionRule, devices []types.DeviceSettings) *Snapshot {
	set := rules.NewRuleSet(defs, s.opts)
	for _, err := range set.Rejected() {
		s.logger.Warn("rule rejected", "error", err)
	}

	byID := make(map[types.DeviceID]types.DeviceSettings, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			s.logger.Warn("device without id ignored", "name", d.Name)
			continue
		}
		byID[d.ID] = d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(set, byID)
}

// UpdateDevice publishes a snapshot with one device added or replaced.
func (s *Store) UpdateDevice(d types.DeviceSettings) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	devices := make(map[types.DeviceID]types.DeviceSettings, len(prev.Devices)+1)
	for id, v := range prev.Devices {
		devices[id] = v
	}
	devices[d.ID] = d
	return s.publishLocked(prev.Rules, devices)
}

// RemoveDevice publishes a snapshot without device id. It reports false
// when the device was not configured.
func (s *Store) RemoveDevice(id types.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.cur.Load()
	if _, ok := prev.Devices[id]; !ok {
		return false
	}
	devices := make(map[types.DeviceID]types.DeviceSettings, len(prev.Devices))
	for k, v := range prev.Devices {
		if k != id {
			devices[k] = v
		}
	}
	s.publishLocked(prev.Rules, devices)
	return true
}

func (s *Store) publishLocked(set *rules.RuleSet, devices map[types.DeviceID]types.DeviceSettings) *Snapshot {
	next := &Snapshot{
		Rules:    set,
		Devices:  devices,
		Version:  s.cur.Load().Version + 1,
		LoadedAt: time.Now(),
	}
	s.cur.Store(next)

	for _, ch := range s.subs {
		// Coalesce: one pending notification is enough.
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	s.logger.Debug("configuration published",
		"version", next.Version,
		"rules", set.Len(),
		"devices", len(devices))
	return next
}

// Subscribe returns a channel that receives after every publish. Bursts
// coalesce into a single wakeup. Call cancel to unsubscribe.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
