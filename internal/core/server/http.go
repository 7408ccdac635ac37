package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solatis/watchkeeper/internal/motion"
	"github.com/solatis/watchkeeper/internal/store"
	"github.com/solatis/watchkeeper/internal/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Engine is the read side of the engine the status endpoints expose.
type Engine interface {
	Attached() []types.DeviceID
	MotionState(id types.DeviceID) (motion.State, bool)
	LastSnapshot(id types.DeviceID) (*types.Image, bool)
}

// History returns recent dispatch records for a device.
type History interface {
	RecentDispatches(ctx context.Context, device types.DeviceID, limit int) ([]store.DispatchRecord, error)
}

// DeviceStatus is the JSON shape of one attached device.
type DeviceStatus struct {
	ID          types.DeviceID `json:"id"`
	Motion      string         `json:"motion"`
	SnapshotURL string         `json:"snapshotUrl,omitempty"`
}

// HTTPServer serves /healthz, /metrics and the device status routes.
type HTTPServer struct {
	server *http.Server
	engine Engine
	hist   History
	ready  Readiness
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHTTPServer builds the router. gatherer may be nil to omit /metrics;
// hist may be nil to omit the notification history route.
func NewHTTPServer(addr string, e Engine, hist History, ready Readiness, gatherer prometheus.Gatherer, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{engine: e, hist: hist, ready: ready, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.getDevice).Methods(http.MethodGet)
	if hist != nil {
		r.HandleFunc("/devices/{id}/notifications", s.listNotifications).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

// Addr returns the bound address, or the configured one before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", listener.Addr().String())
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) listDevices(w http.ResponseWriter, _ *http.Request) {
	ids := s.engine.Attached()
	out := make([]DeviceStatus, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.status(id); ok {
			out = append(out, st)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getDevice(w http.ResponseWriter, r *http.Request) {
	id := types.DeviceID(mux.Vars(r)["id"])
	st, ok := s.status(id)
	if !ok {
		http.Error(w, "device not attached", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *HTTPServer) listNotifications(w http.ResponseWriter, r *http.Request) {
	id := types.DeviceID(mux.Vars(r)["id"])

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := s.hist.RecentDispatches(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("notification history failed", "device", id, "error", err)
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []store.DispatchRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *HTTPServer) status(id types.DeviceID) (DeviceStatus, bool) {
	state, ok := s.engine.MotionState(id)
	if !ok {
		return DeviceStatus{}, false
	}
	st := DeviceStatus{ID: id, Motion: state.String()}
	if img, ok := s.engine.LastSnapshot(id); ok {
		st.SnapshotURL = img.URL
	}
	return st, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
