package motion

import (
	"sync"

	"github.com/solatis/watchkeeper/internal/types"
)

// Signals delivers a device's own motion indicator to subscribers.
// Callbacks are never invoked while Subscribe or the unsubscribe func run.
type Signals interface {
	Subscribe(device types.DeviceID, fn func(motion bool)) (unsubscribe func())
}

// Hub is an in-process Signals implementation fed by the detector source.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[types.DeviceID]map[uint64]func(bool)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[types.DeviceID]map[uint64]func(bool))}
}

// Subscribe registers fn for device. The returned func is idempotent.
func (h *Hub) Subscribe(device types.DeviceID, fn func(bool)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if h.subs[device] == nil {
		h.subs[device] = make(map[uint64]func(bool))
	}
	h.subs[device][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[device], id)
		if len(h.subs[device]) == 0 {
			delete(h.subs, device)
		}
	}
}

// Publish delivers sig to the device's current subscribers.
func (h *Hub) Publish(sig types.MotionSignal) {
	h.mu.Lock()
	fns := make([]func(bool), 0, len(h.subs[sig.DeviceID]))
	for _, fn := range h.subs[sig.DeviceID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(sig.Motion)
	}
}

// Subscribers returns the number of listeners for device.
func (h *Hub) Subscribers(device types.DeviceID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[device])
}
