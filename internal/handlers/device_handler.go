package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/koios/camera-sim/internal/kafkabus"
	"github.com/koios/camera-sim/internal/registrar"
	"github.com/koios/camera-sim/internal/storage"
	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Registrar is the device registry the API drives
type Registrar interface {
	AddDevice(id string) (*registrar.Result, error)
	RemoveDevice(id string) (*registrar.Result, error)
	ListDevices() []string
	Count() int
	Status(id string) (registrar.DeviceStatus, bool)
}

// ImageStorage reports on and prunes persisted frames
type ImageStorage interface {
	Stats() storage.Stats
	CleanupOlderThan(maxAge time.Duration) storage.CleanupResult
}

// TopicInspector reads broker-side topic metadata
type TopicInspector interface {
	TopicInfo(ctx context.Context) (*kafkabus.TopicInfo, error)
}

// Options carries settings echoed by informational endpoints
type Options struct {
	Topic       string
	RetentionMs int64
	MaxAgeHours int
}

// DeviceHandler serves the device management API
type DeviceHandler struct {
	registrar Registrar
	storage   ImageStorage
	topics    TopicInspector
	opts      Options
	logger    *zap.Logger
	startedAt time.Time
	now       func() time.Time
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(reg Registrar, store ImageStorage, topics TopicInspector, opts Options, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		registrar: reg,
		storage:   store,
		topics:    topics,
		opts:      opts,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// RegisterRoutes registers the API routes on r
func (h *DeviceHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/devices", h.handleAddDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices", h.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{deviceId}", h.handleRemoveDevice).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{deviceId}/status", h.handleDeviceStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/storage/stats", h.handleStorageStats).Methods(http.MethodGet)
	r.HandleFunc("/storage/cleanup", h.handleStorageCleanup).Methods(http.MethodPost)
	r.HandleFunc("/kafka/topic-info", h.handleTopicInfo).Methods(http.MethodGet)
}

// Middleware wraps a handler, e.g. metrics instrumentation
type Middleware = mux.MiddlewareFunc

// NewRouter mounts the API under /api, extra handlers at their own paths, and wraps the
// whole tree with panic recovery and access logging.
func NewRouter(h *DeviceHandler, logger *zap.Logger, extra map[string]http.Handler, mw ...Middleware) http.Handler {
	r := mux.NewRouter()
	for _, m := range mw {
		r.Use(m)
	}

	r.HandleFunc("/", h.handleIndex).Methods(http.MethodGet)
	h.RegisterRoutes(r.PathPrefix("/api").Subrouter())
	for path, handler := range extra {
		r.Handle(path, handler)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, newAPIError(http.StatusNotFound, CodeNotFound, "Route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, newAPIError(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed"))
	})

	accessLog := zap.NewStdLog(logger.Named("http")).Writer()
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger)),
		handlers.PrintRecoveryStack(false),
	)
	return handlers.CombinedLoggingHandler(accessLog, recovery(r))
}

// handleIndex handles GET / - describes the API
func (h *DeviceHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "camera-sim",
		"endpoints": map[string]interface{}{
			"health":  "GET /api/health",
			"metrics": "GET /metrics",
			"devices": map[string]string{
				"list":   "GET /api/devices",
				"add":    "POST /api/devices",
				"remove": "DELETE /api/devices/:deviceId",
				"status": "GET /api/devices/:deviceId/status",
			},
			"storage": map[string]string{
				"stats":   "GET /api/storage/stats",
				"cleanup": "POST /api/storage/cleanup?maxAgeHours=",
			},
			"kafka": map[string]string{
				"topicInfo": "GET /api/kafka/topic-info",
			},
		},
	})
}

// handleAddDevice handles POST /api/devices
func (h *DeviceHandler) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseAddDevice(r.Body)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	result, err := h.registrar.AddDevice(id)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			writeError(w, newAPIError(http.StatusConflict, CodeDeviceExists, "Device already exists"))
			return
		}
		h.logger.Error("Failed to add device", zap.String("device_id", id), zap.Error(err))
		writeError(w, newAPIError(http.StatusInternalServerError, CodeInternalError, "Internal server error"))
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// handleRemoveDevice handles DELETE /api/devices/{deviceId}
func (h *DeviceHandler) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["deviceId"]

	result, err := h.registrar.RemoveDevice(id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, newAPIError(http.StatusNotFound, CodeDeviceNotFound, "Device not found"))
			return
		}
		h.logger.Error("Failed to remove device", zap.String("device_id", id), zap.Error(err))
		writeError(w, newAPIError(http.StatusInternalServerError, CodeInternalError, "Internal server error"))
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// handleListDevices handles GET /api/devices
func (h *DeviceHandler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.registrar.ListDevices()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices":   devices,
		"count":     len(devices),
		"timestamp": h.timestamp(),
	})
}

// handleDeviceStatus handles GET /api/devices/{deviceId}/status
func (h *DeviceHandler) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["deviceId"]

	status, ok := h.registrar.Status(id)
	if !ok {
		writeError(w, newAPIError(http.StatusNotFound, CodeDeviceNotFound, "Device not found"))
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		registrar.DeviceStatus
		Timestamp string `json:"timestamp"`
	}{status, h.timestamp()})
}

// handleHealth handles GET /api/health
func (h *DeviceHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     h.timestamp(),
		"uptime":        math.Round(h.now().Sub(h.startedAt).Seconds()*1000) / 1000,
		"activeDevices": h.registrar.Count(),
	})
}

// handleStorageStats handles GET /api/storage/stats
func (h *DeviceHandler) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.storage.Stats())
}

// handleStorageCleanup handles POST /api/storage/cleanup?maxAgeHours=N
func (h *DeviceHandler) handleStorageCleanup(w http.ResponseWriter, r *http.Request) {
	hours, apiErr := parseMaxAgeHours(r, h.opts.MaxAgeHours)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	result := h.storage.CleanupOlderThan(time.Duration(hours) * time.Hour)
	h.logger.Info("Storage cleanup requested",
		zap.Int("max_age_hours", hours),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", result.Errors))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":     result.Deleted,
		"errors":      result.Errors,
		"maxAgeHours": hours,
		"timestamp":   h.timestamp(),
	})
}

// handleTopicInfo handles GET /api/kafka/topic-info
func (h *DeviceHandler) handleTopicInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.topics.TopicInfo(r.Context())
	if err != nil {
		h.logger.Error("Failed to read topic info", zap.String("topic", h.opts.Topic), zap.Error(err))
		writeError(w, newAPIError(http.StatusInternalServerError, CodeInternalError, "Internal server error"))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"topic":          h.opts.Topic,
		"retentionMs":    h.opts.RetentionMs,
		"retentionHours": int(math.Round(float64(h.opts.RetentionMs) / 3600000)),
		"partitions":     info.Partitions,
		"configs":        map[string]string{"retention.ms": info.RetentionMs},
		"timestamp":      h.timestamp(),
	})
}

func (h *DeviceHandler) timestamp() string {
	return h.now().UTC().Format(timestampLayout)
}

func (h *DeviceHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	json.NewEncoder(w).Encode(apiErr)
}
