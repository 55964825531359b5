package registrar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

const (
	sinkTimeout   = 3 * time.Second
	sinkQueueSize = 256
)

// Engine is the command/report surface of the device engine
type Engine interface {
	Run(ctx context.Context)
	Submit(cmd models.Command) error
	Reports() <-chan models.Report
}

// ReportSink receives every report the engine emits
type ReportSink interface {
	Name() string
	HandleReport(ctx context.Context, report models.Report) error
}

// DropObserver is told about every report discarded because a sink fell behind.
// Sinks implementing it are registered automatically.
type DropObserver interface {
	ReportDropped(sink string)
}

// sinkQueue decouples one sink from the report pump
type sinkQueue struct {
	sink    ReportSink
	reports chan models.Report
	dropped atomic.Uint64
}

// DeviceStatus is the registrar's view of one device
type DeviceStatus struct {
	DeviceID    string    `json:"deviceId"`
	Status      string    `json:"status"`
	AddedAt     time.Time `json:"addedAt"`
	EventsSent  int       `json:"eventsSent"`
	Errors      int       `json:"errors"`
	LastEventAt string    `json:"lastEventAt,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Result is returned by successful add and remove calls
type Result struct {
	Message  string `json:"message"`
	DeviceID string `json:"deviceId"`
}

// Service is the host-side registry of devices. It answers duplicate and missing ids
// synchronously and forwards accepted commands to the engine.
type Service struct {
	engine    Engine
	queues    []*sinkQueue
	observers []DropObserver
	logger    *zap.Logger

	mu      sync.RWMutex
	devices map[string]*DeviceStatus

	cancel     context.CancelFunc
	pumpDone   chan struct{}
	startOnce  sync.Once
	sinkWG     sync.WaitGroup
	sinkCtx    context.Context
	sinkCancel context.CancelFunc
}

// NewService creates a registrar over engine
func NewService(engine Engine, logger *zap.Logger, sinks ...ReportSink) *Service {
	sinkCtx, sinkCancel := context.WithCancel(context.Background())
	s := &Service{
		engine:     engine,
		logger:     logger,
		devices:    make(map[string]*DeviceStatus),
		pumpDone:   make(chan struct{}),
		sinkCtx:    sinkCtx,
		sinkCancel: sinkCancel,
	}
	for _, sink := range sinks {
		s.queues = append(s.queues, &sinkQueue{sink: sink, reports: make(chan models.Report, sinkQueueSize)})
		if obs, ok := sink.(DropObserver); ok {
			s.observers = append(s.observers, obs)
		}
	}
	return s
}

// Start runs the engine and the report pump until Shutdown
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		for _, q := range s.queues {
			s.sinkWG.Add(1)
			go s.deliver(q)
		}
		go s.engine.Run(ctx)
		go s.pump()
	})
}

// AddDevice registers a device and starts its emission loop
func (s *Service) AddDevice(id string) (*Result, error) {
	s.mu.Lock()
	if _, exists := s.devices[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyExists, id)
	}
	s.devices[id] = &DeviceStatus{DeviceID: id, Status: "active", AddedAt: time.Now().UTC()}
	s.mu.Unlock()

	if err := s.engine.Submit(models.AddDevice(id)); err != nil {
		s.mu.Lock()
		delete(s.devices, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to submit add-device: %w", err)
	}

	s.logger.Info("Device registered", zap.String("device_id", id))
	return &Result{Message: "Device added and event loop started", DeviceID: id}, nil
}

// RemoveDevice unregisters a device and stops its emission loop
func (s *Service) RemoveDevice(id string) (*Result, error) {
	s.mu.Lock()
	status, exists := s.devices[id]
	if !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	delete(s.devices, id)
	s.mu.Unlock()

	if err := s.engine.Submit(models.RemoveDevice(id)); err != nil {
		s.mu.Lock()
		s.devices[id] = status
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to submit remove-device: %w", err)
	}

	s.logger.Info("Device unregistered", zap.String("device_id", id))
	return &Result{Message: "Device removed from event loop", DeviceID: id}, nil
}

// ListDevices returns registered device ids in sorted order
func (s *Service) ListDevices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered devices
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

// Status returns a copy of a device's status
func (s *Service) Status(id string) (DeviceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.devices[id]
	if !ok {
		return DeviceStatus{}, false
	}
	return *status, true
}

// DroppedReports returns how many reports the named sink has missed because its queue was full
func (s *Service) DroppedReports(sink string) uint64 {
	var n uint64
	for _, q := range s.queues {
		if q.sink.Name() == sink {
			n += q.dropped.Load()
		}
	}
	return n
}

// Shutdown stops the engine, waits for the report stream to end, then gives the sinks
// until ctx expires to drain what is queued.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.pumpDone:
	case <-ctx.Done():
		return fmt.Errorf("registrar shutdown: %w", ctx.Err())
	}

	sinksDone := make(chan struct{})
	go func() {
		s.sinkWG.Wait()
		close(sinksDone)
	}()

	select {
	case <-sinksDone:
		s.logger.Info("Registrar stopped")
		return nil
	case <-ctx.Done():
		s.sinkCancel()
		return fmt.Errorf("report sinks did not drain: %w", ctx.Err())
	}
}

// pump drains engine reports until the engine closes the stream. It only touches memory,
// so the engine never waits on a sink.
func (s *Service) pump() {
	defer close(s.pumpDone)

	for report := range s.engine.Reports() {
		s.record(report)
		s.logReport(report)

		for _, q := range s.queues {
			s.enqueue(q, report)
		}
	}

	for _, q := range s.queues {
		close(q.reports)
	}
}

func (s *Service) enqueue(q *sinkQueue, report models.Report) {
	select {
	case q.reports <- report:
		return
	default:
	}

	n := q.dropped.Add(1)
	for _, obs := range s.observers {
		obs.ReportDropped(q.sink.Name())
	}
	if n == 1 || n%100 == 0 {
		s.logger.Warn("Report sink is falling behind, dropping reports",
			zap.String("sink", q.sink.Name()),
			zap.Uint64("dropped", n))
	}
}

// deliver feeds one sink from its queue until the pump closes it
func (s *Service) deliver(q *sinkQueue) {
	defer s.sinkWG.Done()

	for report := range q.reports {
		ctx, cancel := context.WithTimeout(s.sinkCtx, sinkTimeout)
		if err := q.sink.HandleReport(ctx, report); err != nil {
			s.logger.Warn("Report sink failed",
				zap.String("sink", q.sink.Name()),
				zap.String("device_id", report.DeviceID),
				zap.Error(err))
		}
		cancel()
	}
}

func (s *Service) record(report models.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.devices[report.DeviceID]
	if !ok {
		return
	}
	switch report.Type {
	case models.ReportEventSent:
		status.EventsSent++
		status.LastEventAt = report.Timestamp
	case models.ReportError:
		status.Errors++
		status.LastError = report.Error
	}
}

func (s *Service) logReport(report models.Report) {
	switch report.Type {
	case models.ReportEventSent:
		s.logger.Debug("Event sent",
			zap.String("device_id", report.DeviceID),
			zap.String("timestamp", report.Timestamp))
	case models.ReportDeviceRemoved:
		s.logger.Info("Device removed",
			zap.String("device_id", report.DeviceID),
			zap.Bool("success", report.Succeeded()))
	case models.ReportError:
		s.logger.Error("Device error",
			zap.String("device_id", report.DeviceID),
			zap.String("error", report.Error))
	default:
		s.logger.Warn("Unknown report", zap.String("type", report.Type))
	}
}
