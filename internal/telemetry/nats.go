package telemetry

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/solatis/watchkeeper/internal/types"
)

// DefaultSubjectPrefix roots all telemetry subjects.
const DefaultSubjectPrefix = "watchkeeper"

// NATSPublisher publishes to <prefix>.state.<device> and
// <prefix>.detections.<device>. nats.Conn.Publish buffers client-side, so
// calls do not block on the network.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSPublisher wraps an existing connection. The caller keeps ownership.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger, now: time.Now}
}

// DialNATS connects to url and returns a publisher owning the connection.
func DialNATS(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("watchkeeper-telemetry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, types.WrapTransient("connect", url, err)
	}
	p := NewNATSPublisher(conn, prefix, logger)
	p.owned = true
	return p, nil
}

// StateSubject returns the subject for device state.
func (p *NATSPublisher) StateSubject(device types.DeviceID) string {
	return p.prefix + ".state." + string(device)
}

// DetectionsSubject returns the subject for device detection reports.
func (p *NATSPublisher) DetectionsSubject(device types.DeviceID) string {
	return p.prefix + ".detections." + string(device)
}

func (p *NATSPublisher) PublishState(device types.DeviceID, active bool, detail *types.StateDetail) {
	data, err := encodeState(device, active, detail, p.now())
	if err != nil {
		p.logger.Error("encode state", "device", device, "error", err)
		return
	}
	if err := p.conn.Publish(p.StateSubject(device), data); err != nil {
		p.logger.Warn("publish state failed", "device", device, "error", err)
	}
}

func (p *NATSPublisher) PublishDetections(device types.DeviceID, batch types.DetectionBatch) {
	data, err := encodeDetections(device, batch)
	if err != nil {
		p.logger.Error("encode detections", "device", device, "error", err)
		return
	}
	if err := p.conn.Publish(p.DetectionsSubject(device), data); err != nil {
		p.logger.Warn("publish detections failed", "device", device, "error", err)
	}
}

// Close flushes pending messages and closes an owned connection.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		p.logger.Warn("flush on close failed", "error", err)
	}
	p.conn.Close()
	return nil
}
