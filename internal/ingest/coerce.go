package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/solatis/watchkeeper/internal/types"
)

/*
 * Lenient decoding of detector payloads.
 *
 * Detector plugins disagree on field types: scores arrive as numbers or
 * numeric strings, zones as a list or a single name, timestamps as epoch
 * milliseconds or RFC 3339. Each field is coerced on its own:
 *
 *   - text fields (className, label, zones): any scalar becomes a string
 *   - numeric fields (score, timestamp): numbers and numeric strings only
 *   - boolean fields (motion, hasBoundingBox): booleans only
 *
 * A null or absent field is "missing", which differs from a field that is
 * present but cannot be coerced. A missing score passes the score gate;
 * an unparseable one drops the detection.
 */

// wireBatch mirrors the JSON a detector publishes on <prefix>.detections.<id>.
type wireBatch struct {
	Timestamp  any              `json:"timestamp"`
	Detections []map[string]any `json:"detections"`
}

// wireMotion mirrors the JSON published on <prefix>.motion.<id>.
type wireMotion struct {
	Timestamp any `json:"timestamp"`
	Motion    any `json:"motion"`
}

// Rejected describes one detection dropped while decoding a batch.
type Rejected struct {
	Index int
	Err   error
}

// DecodeBatch decodes a detection batch for device. Detections that cannot
// be coerced are returned in rejected; the rest of the batch survives.
func DecodeBatch(device types.DeviceID, data []byte, now time.Time) (types.DetectionBatch, []Rejected, error) {
	var w wireBatch
	if err := json.Unmarshal(data, &w); err != nil {
		return types.DetectionBatch{}, nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	batch := types.DetectionBatch{
		DeviceID:  device,
		Timestamp: coerceTimestamp(w.Timestamp, now),
	}
	var rejected []Rejected
	for i, raw := range w.Detections {
		d, err := coerceDetection(raw)
		if err != nil {
			rejected = append(rejected, Rejected{Index: i, Err: err})
			continue
		}
		batch.Detections = append(batch.Detections, d)
	}
	return batch, rejected, nil
}

// DecodeMotion decodes a device motion signal.
func DecodeMotion(device types.DeviceID, data []byte, now time.Time) (types.MotionSignal, error) {
	var w wireMotion
	if err := json.Unmarshal(data, &w); err != nil {
		return types.MotionSignal{}, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	motion, ok, err := coerceBool(w.Motion)
	if err != nil {
		return types.MotionSignal{}, fmt.Errorf("motion: %w", err)
	}
	if !ok {
		return types.MotionSignal{}, fmt.Errorf("%w: motion field missing", types.ErrMalformedPayload)
	}
	return types.MotionSignal{
		DeviceID:  device,
		Timestamp: coerceTimestamp(w.Timestamp, now),
		Motion:    motion,
	}, nil
}

func coerceDetection(raw map[string]any) (types.DetectionResult, error) {
	var d types.DetectionResult

	className, ok := coerceText(raw["className"])
	if !ok || strings.TrimSpace(className) == "" {
		return d, fmt.Errorf("%w: className missing", types.ErrMalformedPayload)
	}
	d.ClassName = className

	if label, ok := coerceText(raw["label"]); ok {
		d.Label = label
	}

	score, ok, err := coerceNumeric(raw["score"])
	if err != nil {
		return d, fmt.Errorf("score: %w", err)
	}
	if ok {
		d.Score = &score
	}

	switch z := raw["zones"].(type) {
	case nil:
	case []any:
		for _, v := range z {
			if s, ok := coerceText(v); ok && s != "" {
				d.Zones = append(d.Zones, s)
			}
		}
	default:
		if s, ok := coerceText(z); ok && s != "" {
			d.Zones = []string{s}
		}
	}

	if has, ok, err := coerceBool(raw["hasBoundingBox"]); err == nil && ok {
		d.HasBoundingBox = has
	} else {
		d.HasBoundingBox = hasBox(raw["boundingBox"])
	}

	return d, nil
}

// hasBox reports whether a boundingBox value describes an actual box.
func hasBox(v any) bool {
	switch b := v.(type) {
	case []any:
		return len(b) == 4
	case map[string]any:
		return len(b) > 0
	}
	return false
}

// coerceText renders any scalar as a string. Reports false for null and for
// composite values.
func coerceText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case []any, map[string]any:
		return "", false
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// coerceNumeric accepts finite numbers and numeric strings. Booleans,
// NaN and infinities are rejected. Whitespace-only strings are not numbers.
func coerceNumeric(v any) (float64, bool, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false, types.ErrCoercionFailed
		}
		f = n
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, types.ErrCoercionFailed
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, types.ErrCoercionFailed
		}
		f = n
	default:
		return 0, false, types.ErrCoercionFailed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, types.ErrCoercionFailed
	}
	return f, true, nil
}

// coerceBool accepts booleans only; "true" and 1 are ambiguous.
func coerceBool(v any) (bool, bool, error) {
	switch t := v.(type) {
	case nil:
		return false, false, nil
	case bool:
		return t, true, nil
	default:
		return false, false, types.ErrCoercionFailed
	}
}

// coerceTimestamp reads epoch milliseconds or RFC 3339. Anything else, or a
// missing value, falls back to now.
func coerceTimestamp(v any, now time.Time) time.Time {
	if s, ok := v.(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	if ms, ok, err := coerceNumeric(v); err == nil && ok {
		return time.UnixMilli(int64(ms))
	}
	return now
}
