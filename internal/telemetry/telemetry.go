// Package telemetry mirrors motion state and detection reports onto an
// observability bus. Every publisher is fire-and-forget: failures are
// logged here and never surfaced to the engine.
package telemetry

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/solatis/watchkeeper/internal/types"
)

// Publisher is the telemetry collaborator used by the engine.
type Publisher interface {
	PublishState(device types.DeviceID, active bool, detail *types.StateDetail)
	PublishDetections(device types.DeviceID, batch types.DetectionBatch)
	Close() error
}

// StateMessage is the wire form of a state publish.
type StateMessage struct {
	Device    types.DeviceID     `json:"device"`
	Active    bool               `json:"active"`
	Timestamp int64              `json:"ts"`
	Detail    *types.StateDetail `json:"detail,omitempty"`
}

// DetectionsMessage is the wire form of a detection report.
type DetectionsMessage struct {
	Device     types.DeviceID          `json:"device"`
	Timestamp  int64                   `json:"ts"`
	Detections []types.DetectionResult `json:"detections"`
}

func encodeState(device types.DeviceID, active bool, detail *types.StateDetail, now time.Time) ([]byte, error) {
	return json.Marshal(StateMessage{
		Device:    device,
		Active:    active,
		Timestamp: now.UnixMilli(),
		Detail:    detail,
	})
}

func encodeDetections(device types.DeviceID, batch types.DetectionBatch) ([]byte, error) {
	return json.Marshal(DetectionsMessage{
		Device:     device,
		Timestamp:  batch.Timestamp.UnixMilli(),
		Detections: batch.Detections,
	})
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishState(types.DeviceID, bool, *types.StateDetail)   {}
func (Nop) PublishDetections(types.DeviceID, types.DetectionBatch) {}
func (Nop) Close() error                                            { return nil }

// Fanout forwards to several publishers.
type Fanout []Publisher

func (f Fanout) PublishState(device types.DeviceID, active bool, detail *types.StateDetail) {
	for _, p := range f {
		p.PublishState(device, active, detail)
	}
}

func (f Fanout) PublishDetections(device types.DeviceID, batch types.DetectionBatch) {
	for _, p := range f {
		p.PublishDetections(device, batch)
	}
}

// Close closes every publisher and returns the first error.
func (f Fanout) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
