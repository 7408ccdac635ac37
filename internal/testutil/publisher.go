package testutil

import (
	"sync"

	"github.com/solatis/watchkeeper/internal/types"
)

// StateEvent is one recorded PublishState call.
type StateEvent struct {
	Device types.DeviceID
	Active bool
	Detail *types.StateDetail
}

// RecordingPublisher captures state and detection publishes.
type RecordingPublisher struct {
	mu         sync.Mutex
	states     []StateEvent
	detections [][]types.DetectionResult
}

func (p *RecordingPublisher) PublishState(device types.DeviceID, active bool, detail *types.StateDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, StateEvent{Device: device, Active: active, Detail: detail})
}

func (p *RecordingPublisher) PublishDetections(device types.DeviceID, batch types.DetectionBatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detections = append(p.detections, batch.Detections)
}

// States returns a copy of recorded state events.
func (p *RecordingPublisher) States() []StateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StateEvent(nil), p.states...)
}

// Count returns how many publishes of the given state were recorded.
func (p *RecordingPublisher) Count(active bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.states {
		if s.Active == active {
			n++
		}
	}
	return n
}

// Detections returns recorded detection reports.
func (p *RecordingPublisher) Detections() [][]types.DetectionResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]types.DetectionResult(nil), p.detections...)
}

func (p *RecordingPublisher) Close() error { return nil }
