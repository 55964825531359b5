package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koios/camera-sim/internal/kafkabus"
	"github.com/koios/camera-sim/internal/metrics"
	"github.com/koios/camera-sim/internal/registrar"
	"github.com/koios/camera-sim/internal/storage"
	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

type fakeRegistrar struct {
	mu      sync.Mutex
	devices map[string]registrar.DeviceStatus
	failAdd error
}

func newFakeRegistrar(ids ...string) *fakeRegistrar {
	r := &fakeRegistrar{devices: make(map[string]registrar.DeviceStatus)}
	for _, id := range ids {
		r.devices[id] = registrar.DeviceStatus{DeviceID: id, Status: "active"}
	}
	return r
}

func (r *fakeRegistrar) AddDevice(id string) (*registrar.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAdd != nil {
		return nil, r.failAdd
	}
	if _, ok := r.devices[id]; ok {
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyExists, id)
	}
	r.devices[id] = registrar.DeviceStatus{DeviceID: id, Status: "active"}
	return &registrar.Result{Message: "Device added and event loop started", DeviceID: id}, nil
}

func (r *fakeRegistrar) RemoveDevice(id string) (*registrar.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	delete(r.devices, id)
	return &registrar.Result{Message: "Device removed from event loop", DeviceID: id}, nil
}

func (r *fakeRegistrar) ListDevices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *fakeRegistrar) Count() int {
	return len(r.ListDevices())
}

func (r *fakeRegistrar) Status(id string) (registrar.DeviceStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.devices[id]
	return s, ok
}

type fakeStorage struct {
	lastMaxAge time.Duration
}

func (s *fakeStorage) Stats() storage.Stats {
	return storage.Stats{Enabled: true, Folder: "/data/images", TotalFiles: 3, TotalSize: 3072}
}

func (s *fakeStorage) CleanupOlderThan(maxAge time.Duration) storage.CleanupResult {
	s.lastMaxAge = maxAge
	return storage.CleanupResult{Deleted: 2}
}

type fakeTopics struct {
	err error
}

func (f *fakeTopics) TopicInfo(context.Context) (*kafkabus.TopicInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &kafkabus.TopicInfo{
		Topic:       "camera-events",
		Partitions:  []kafkabus.PartitionInfo{{ID: 0, Leader: "kafka:9092", Replicas: 1, ISR: 1}},
		RetentionMs: "3600000",
	}, nil
}

type testServer struct {
	handler http.Handler
	reg     *fakeRegistrar
	store   *fakeStorage
	topics  *fakeTopics
}

func newTestServer(ids ...string) *testServer {
	ts := &testServer{reg: newFakeRegistrar(ids...), store: &fakeStorage{}, topics: &fakeTopics{}}
	h := NewDeviceHandler(ts.reg, ts.store, ts.topics, Options{
		Topic:       "camera-events",
		RetentionMs: 3600000,
		MaxAgeHours: 24,
	}, zap.NewNop())
	h.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	h.startedAt = h.now().Add(-90 * time.Second)
	ts.handler = NewRouter(h, zap.NewNop(), nil)
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestAddDevice(t *testing.T) {
	tests := []struct {
		name       string
		existing   []string
		body       string
		failAdd    error
		wantStatus int
		wantCode   string
	}{
		{name: "created", body: `{"deviceId":"CAM-1"}`, wantStatus: http.StatusCreated},
		{name: "missing", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: CodeMissingDeviceID},
		{name: "invalid", body: `{"deviceId":7}`, wantStatus: http.StatusBadRequest, wantCode: CodeInvalidDeviceID},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest, wantCode: CodeInvalidJSON},
		{name: "duplicate", existing: []string{"CAM-1"}, body: `{"deviceId":"CAM-1"}`, wantStatus: http.StatusConflict, wantCode: CodeDeviceExists},
		{name: "engine stopped", body: `{"deviceId":"CAM-1"}`, failAdd: models.ErrEngineStopped, wantStatus: http.StatusInternalServerError, wantCode: CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(tt.existing...)
			ts.reg.failAdd = tt.failAdd

			rec := ts.do(http.MethodPost, "/api/devices", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decode(t, rec)
			if tt.wantCode != "" {
				if body["code"] != tt.wantCode {
					t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
				}
				if _, ok := body["error"].(string); !ok {
					t.Errorf("missing error message: %v", body)
				}
				return
			}
			if body["deviceId"] != "CAM-1" || body["message"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestRemoveDevice(t *testing.T) {
	ts := newTestServer("CAM-1")

	rec := ts.do(http.MethodDelete, "/api/devices/CAM-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["deviceId"] != "CAM-1" {
		t.Errorf("body = %v", body)
	}

	rec = ts.do(http.MethodDelete, "/api/devices/CAM-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
	if body := decode(t, rec); body["code"] != CodeDeviceNotFound {
		t.Errorf("code = %v", body["code"])
	}
}

func TestListDevices(t *testing.T) {
	ts := newTestServer("CAM-2", "CAM-1")

	rec := ts.do(http.MethodGet, "/api/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	devices, _ := body["devices"].([]interface{})
	if len(devices) != 2 || devices[0] != "CAM-1" || devices[1] != "CAM-2" {
		t.Errorf("devices = %v", body["devices"])
	}
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
	if body["timestamp"] != "2024-05-01T12:00:00.000Z" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
}

func TestListDevices_Empty(t *testing.T) {
	body := decode(t, newTestServer().do(http.MethodGet, "/api/devices", ""))
	if devices, ok := body["devices"].([]interface{}); !ok || len(devices) != 0 {
		t.Errorf("devices = %v, want empty array", body["devices"])
	}
}

func TestDeviceStatus(t *testing.T) {
	ts := newTestServer("CAM-1")

	rec := ts.do(http.MethodGet, "/api/devices/CAM-1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["deviceId"] != "CAM-1" || body["status"] != "active" {
		t.Errorf("body = %v", body)
	}

	if rec := ts.do(http.MethodGet, "/api/devices/CAM-9/status", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	body := decode(t, newTestServer("CAM-1", "CAM-2").do(http.MethodGet, "/api/health", ""))

	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	if body["activeDevices"] != float64(2) {
		t.Errorf("activeDevices = %v", body["activeDevices"])
	}
	if body["uptime"] != float64(90) {
		t.Errorf("uptime = %v", body["uptime"])
	}
}

func TestStorageEndpoints(t *testing.T) {
	ts := newTestServer()

	body := decode(t, ts.do(http.MethodGet, "/api/storage/stats", ""))
	if body["enabled"] != true || body["totalFiles"] != float64(3) {
		t.Errorf("stats = %v", body)
	}

	rec := ts.do(http.MethodPost, "/api/storage/cleanup?maxAgeHours=6", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", rec.Code)
	}
	if ts.store.lastMaxAge != 6*time.Hour {
		t.Errorf("maxAge = %v, want 6h", ts.store.lastMaxAge)
	}
	if body := decode(t, rec); body["deleted"] != float64(2) {
		t.Errorf("cleanup = %v", body)
	}

	ts.do(http.MethodPost, "/api/storage/cleanup", "")
	if ts.store.lastMaxAge != 24*time.Hour {
		t.Errorf("default maxAge = %v, want 24h", ts.store.lastMaxAge)
	}

	if rec := ts.do(http.MethodPost, "/api/storage/cleanup?maxAgeHours=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid maxAgeHours status = %d", rec.Code)
	}
}

func TestTopicInfo(t *testing.T) {
	ts := newTestServer()

	body := decode(t, ts.do(http.MethodGet, "/api/kafka/topic-info", ""))
	if body["topic"] != "camera-events" || body["retentionHours"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	partitions, _ := body["partitions"].([]interface{})
	if len(partitions) != 1 {
		t.Fatalf("partitions = %v", body["partitions"])
	}

	ts.topics.err = errors.New("broker unreachable")
	if rec := ts.do(http.MethodGet, "/api/kafka/topic-info", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRouting(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["code"] != CodeNotFound {
		t.Errorf("code = %v", body["code"])
	}

	if rec := ts.do(http.MethodPut, "/api/devices", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d", rec.Code)
	}

	if rec := ts.do(http.MethodGet, "/", ""); rec.Code != http.StatusOK {
		t.Errorf("index status = %d", rec.Code)
	}
}

func TestRouter_MetricsMounted(t *testing.T) {
	m := metrics.New()
	reg := newFakeRegistrar("CAM-1")
	h := NewDeviceHandler(reg, &fakeStorage{}, &fakeTopics{}, Options{MaxAgeHours: 24}, zap.NewNop())
	handler := NewRouter(h, zap.NewNop(), map[string]http.Handler{"/metrics": m.Handler()}, m.Middleware)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `route="/api/devices"`) {
		t.Errorf("request metrics missing route label:\n%s", rec.Body.String())
	}
}
