// Package types provides domain models shared across WatchKeeper components.
//
// Zero-dependency design: types.go, rules.go and errors.go use only the
// standard library so detector adapters can import them without pulling in
// transport or storage stacks. ID utilities in ids.go import uuid.
package types

import "time"

// RuleID identifies a detection rule. Stable across reloads; used for
// autodiscovery bookkeeping and the dispatch audit trail.
type RuleID string

// NotificationID represents a UUIDv7 identifier for one notifier outcome.
type NotificationID string

// DeviceID identifies a triggering device (camera or sensor).
type DeviceID string

// DetectionResult is one recognized object instance within a frame.
// Produced by the external detector; immutable once received.
type DetectionResult struct {
	ClassName      string   `json:"className" yaml:"class_name"`
	Label          string   `json:"label,omitempty" yaml:"label,omitempty"`
	Score          *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Zones          []string `json:"zones,omitempty" yaml:"zones,omitempty"`
	HasBoundingBox bool     `json:"hasBoundingBox" yaml:"has_bounding_box"`
}

// HasScore reports whether the detector supplied a confidence score.
func (d DetectionResult) HasScore() bool {
	return d.Score != nil
}

// DetectionBatch is all detections reported for one physical event.
// Timestamp is the detector's event time and drives rate limiting.
type DetectionBatch struct {
	DeviceID   DeviceID          `json:"deviceId"`
	Timestamp  time.Time         `json:"timestamp"`
	Detections []DetectionResult `json:"detections"`
}

// MotionSignal is the device's own motion indicator.
// Motion=false means the device reports motion has ended.
type MotionSignal struct {
	DeviceID  DeviceID  `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
	Motion    bool      `json:"motion"`
}

// SizeHint requests a snapshot resolution. Zero fields mean device default.
type SizeHint struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Scaled returns the hint multiplied by factor. Factor <= 0 returns h unchanged.
func (h SizeHint) Scaled(factor float64) SizeHint {
	if factor <= 0 || factor == 1 {
		return h
	}
	return SizeHint{
		Width:  int(float64(h.Width) * factor),
		Height: int(float64(h.Height) * factor),
	}
}

// Image is a captured snapshot. URL is set once the image is archived.
type Image struct {
	Data        []byte
	ContentType string
	Size        SizeHint
	URL         string
}

// DeviceSettings holds per-device scalar settings consumed by the engine.
// Nil pointers inherit from engine-wide defaults.
type DeviceSettings struct {
	ID                        DeviceID       `yaml:"id"`
	Name                      string         `yaml:"name"`
	Room                      string         `yaml:"room"`
	CameraID                  DeviceID       `yaml:"camera_id,omitempty"`
	MinDelay                  *time.Duration `yaml:"min_delay,omitempty"`
	MotionDuration            *time.Duration `yaml:"motion_duration,omitempty"`
	ScoreThreshold            *float64       `yaml:"score_threshold,omitempty"`
	IgnoreUnboundedDetections *bool          `yaml:"ignore_unbounded_detections,omitempty"`
	NotificationsEnabled      bool           `yaml:"notifications_enabled"`
	ReportDetections          bool           `yaml:"report_detections"`
}

// Camera returns the device used for snapshots and deep links.
// A sensor may link to a camera; cameras link to themselves.
func (s DeviceSettings) Camera() DeviceID {
	if s.CameraID != "" {
		return s.CameraID
	}
	return s.ID
}

// DisplayName returns Name, falling back to the device id.
func (s DeviceSettings) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return string(s.ID)
}

// Engine-wide defaults applied when neither rule nor device override a value.
const (
	DefaultMinDelay       = 15 * time.Second
	DefaultScoreThreshold = 0.7
	DefaultSnapshotWidth  = 1280
	DefaultSnapshotHeight = 720
)

// StateDetail accompanies an "active" state publish.
type StateDetail struct {
	RuleID    RuleID           `json:"ruleId,omitempty"`
	Detection *DetectionResult `json:"detection,omitempty"`
	Image     *Image           `json:"-"`
	ImageURL  string           `json:"imageUrl,omitempty"`
	URL       string           `json:"url,omitempty"`
}
