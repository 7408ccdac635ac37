// Package ingest receives detector events and keeps the pass journal.
package ingest

import (
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/solatis/watchkeeper/internal/types"
)

// DefaultSubjectPrefix roots the subjects detectors publish on.
const DefaultSubjectPrefix = "detector"

// Handlers receive decoded events for one device. Either may be nil.
type Handlers struct {
	Detections func(types.DetectionBatch)
	Motion     func(types.MotionSignal)
}

// Source starts and stops a device's event subscription.
type Source interface {
	Subscribe(device types.DeviceID, h Handlers) (unsubscribe func(), err error)
}

// NATSSource subscribes to <prefix>.detections.<device> and
// <prefix>.motion.<device>. Each subscription delivers messages in order
// on its own goroutine.
type NATSSource struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSSource wraps an existing connection. The caller keeps ownership.
func NewNATSSource(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSSource {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSource{conn: conn, prefix: prefix, logger: logger, now: time.Now}
}

// DialNATSSource connects to url and returns a source owning the connection.
func DialNATSSource(url, prefix string, logger *slog.Logger) (*NATSSource, error) {
	conn, err := nats.Connect(url,
		nats.Name("watchkeeper-ingest"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, types.WrapTransient("connect", url, err)
	}
	s := NewNATSSource(conn, prefix, logger)
	s.owned = true
	return s, nil
}

// DetectionsSubject returns the subject carrying device detection batches.
func (s *NATSSource) DetectionsSubject(device types.DeviceID) string {
	return s.prefix + ".detections." + string(device)
}

// MotionSubject returns the subject carrying device motion signals.
func (s *NATSSource) MotionSubject(device types.DeviceID) string {
	return s.prefix + ".motion." + string(device)
}

// Subscribe starts delivery for device. Malformed messages are logged and
// dropped. The returned func stops both subscriptions and is safe to call
// more than once.
func (s *NATSSource) Subscribe(device types.DeviceID, h Handlers) (func(), error) {
	logger := s.logger.With("device", device)
	var subs []*nats.Subscription

	unsubscribe := func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
				logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
			}
		}
	}

	if h.Detections != nil {
		sub, err := s.conn.Subscribe(s.DetectionsSubject(device), func(msg *nats.Msg) {
			batch, rejected, err := DecodeBatch(device, msg.Data, s.now())
			if err != nil {
				logger.Warn("dropping detection batch", "error", err)
				return
			}
			for _, r := range rejected {
				logger.Debug("dropping detection", "index", r.Index, "error", r.Err)
			}
			h.Detections(batch)
		})
		if err != nil {
			return nil, types.WrapTransient("subscribe", s.DetectionsSubject(device), err)
		}
		subs = append(subs, sub)
	}

	if h.Motion != nil {
		sub, err := s.conn.Subscribe(s.MotionSubject(device), func(msg *nats.Msg) {
			sig, err := DecodeMotion(device, msg.Data, s.now())
			if err != nil {
				logger.Warn("dropping motion signal", "error", err)
				return
			}
			h.Motion(sig)
		})
		if err != nil {
			unsubscribe()
			return nil, types.WrapTransient("subscribe", s.MotionSubject(device), err)
		}
		subs = append(subs, sub)
	}

	return unsubscribe, nil
}

// Close drains and closes the connection when the source owns it.
func (s *NATSSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Drain()
}
