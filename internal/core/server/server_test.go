package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/watchkeeper/internal/metrics"
	"github.com/solatis/watchkeeper/internal/motion"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/types"
)

type stubEngine struct {
	states map[types.DeviceID]motion.State
	images map[types.DeviceID]*types.Image
}

func (e *stubEngine) Attached() []types.DeviceID {
	var ids []types.DeviceID
	for id := range e.states {
		ids = append(ids, id)
	}
	return ids
}

func (e *stubEngine) MotionState(id types.DeviceID) (motion.State, bool) {
	s, ok := e.states[id]
	return s, ok
}

func (e *stubEngine) LastSnapshot(id types.DeviceID) (*types.Image, bool) {
	img, ok := e.images[id]
	return img, ok
}

type stubHistory struct {
	limit int
	err   error
}

func (h *stubHistory) RecentDispatches(_ context.Context, device types.DeviceID, limit int) ([]store.DispatchRecord, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return []store.DispatchRecord{{ID: "n1", Device: device, NotifierID: "phone", Succeeded: true}}, nil
}

func newTestHTTP(ready *atomic.Bool, hist History) *HTTPServer {
	e := &stubEngine{
		states: map[types.DeviceID]motion.State{"front": motion.Active},
		images: map[types.DeviceID]*types.Image{"front": {URL: "http://archive/front.jpg"}},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Batch("front", 1)
	return NewHTTPServer("127.0.0.1:0", e, hist, ready.Load, reg, nil)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	var ready atomic.Bool
	s := newTestHTTP(&ready, nil)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/healthz").Code)
	ready.Store(true)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	var ready atomic.Bool
	s := newTestHTTP(&ready, nil)

	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "watchkeeper_detection_batches_total")
}

func TestDeviceRoutes(t *testing.T) {
	var ready atomic.Bool
	s := newTestHTTP(&ready, nil)

	rec := get(t, s.Handler(), "/devices/front")
	require.Equal(t, http.StatusOK, rec.Code)
	var st DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "active", st.Motion)
	assert.Equal(t, "http://archive/front.jpg", st.SnapshotURL)

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/devices/garage").Code)

	rec = get(t, s.Handler(), "/devices")
	var all []DeviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/devices/front/notifications").Code,
		"history route is absent without a store")
}

func TestNotificationHistory(t *testing.T) {
	var ready atomic.Bool
	hist := &stubHistory{}
	s := newTestHTTP(&ready, hist)

	rec := get(t, s.Handler(), "/devices/front/notifications")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, hist.limit)
	var recs []store.DispatchRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "phone", recs[0].NotifierID)

	get(t, s.Handler(), "/devices/front/notifications?limit=100000")
	assert.Equal(t, maxHistoryLimit, hist.limit)

	assert.Equal(t, http.StatusBadRequest, get(t, s.Handler(), "/devices/front/notifications?limit=abc").Code)

	hist.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, get(t, s.Handler(), "/devices/front/notifications").Code)
}

func TestGRPCHealth(t *testing.T) {
	var ready atomic.Bool
	s, err := NewGRPCServer("127.0.0.1:0", ready.Load, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Start(ctx, 10*time.Millisecond) }()
	require.Eventually(t, func() bool { return s.Addr() != "127.0.0.1:0" }, 5*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	check := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return grpc_health_v1.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())
	ready.Store(true)
	require.Eventually(t, func() bool {
		return check() == grpc_health_v1.HealthCheckResponse_SERVING
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	assert.NoError(t, s.Shutdown(shutdownCtx))
}

func TestNewGRPCServerRequiresReadiness(t *testing.T) {
	_, err := NewGRPCServer(":0", nil, nil)
	assert.Error(t, err)
}
