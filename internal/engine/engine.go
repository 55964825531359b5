package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/internal/render"
	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

const (
	commandQueueSize = 64
	reportQueueSize  = 256
)

// ImageGenerator draws the frame attached to each event
type ImageGenerator interface {
	Generate(deviceID string) (*render.Image, error)
}

// ImageStore optionally persists frames. A nil record means nothing was stored.
type ImageStore interface {
	Save(data []byte, deviceID, position string, ts time.Time) *models.StorageRecord
}

// Publisher sends events to the broker over a shared connection
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
	Close() error
}

type requestKind int

const (
	requestCommand requestKind = iota
	requestSnapshot
)

// request is a message on the engine's inbound queue
type request struct {
	kind  requestKind
	cmd   models.Command
	reply chan []string
}

// Engine runs one emission loop per registered device. The device map is owned by the
// goroutine executing Run; everything else talks to it through Submit and Reports.
type Engine struct {
	cfg       config.DeviceConfig
	generator ImageGenerator
	store     ImageStore
	publisher Publisher
	logger    *zap.Logger

	requests chan request
	reports  chan models.Report
	stopped  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithRand replaces the source used for intervals and sensor readings
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithClock replaces the clock used for event timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. store may be nil when images are never persisted.
func New(cfg config.DeviceConfig, generator ImageGenerator, store ImageStore, publisher Publisher, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		generator: generator,
		store:     store,
		publisher: publisher,
		logger:    logger,
		requests:  make(chan request, commandQueueSize),
		reports:   make(chan models.Report, reportQueueSize),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues a command without waiting for it to take effect
func (e *Engine) Submit(cmd models.Command) error {
	select {
	case <-e.stopped:
		return models.ErrEngineStopped
	default:
	}

	select {
	case e.requests <- request{kind: requestCommand, cmd: cmd}:
		return nil
	case <-e.stopped:
		return models.ErrEngineStopped
	}
}

// Reports returns the outbound report stream. It is closed once Run has fully shut down.
func (e *Engine) Reports() <-chan models.Report {
	return e.reports
}

// Done is closed after Run returns
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// ListDevices returns the ids of all running devices, sorted
func (e *Engine) ListDevices(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case e.requests <- request{kind: requestSnapshot, reply: reply}:
	case <-e.stopped:
		return nil, models.ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case ids := <-reply:
		return ids, nil
	case <-e.done:
		return nil, models.ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Count returns the number of running devices
func (e *Engine) Count(ctx context.Context) (int, error) {
	ids, err := e.ListDevices(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Run processes commands until ctx is cancelled, then stops every device loop, waits for
// in-flight ticks, closes the publisher and closes the report stream.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	e.logger.Info("Device engine started",
		zap.Duration("min_interval", e.cfg.MinInterval),
		zap.Duration("max_interval", e.cfg.MaxInterval))

	devices := make(map[string]context.CancelFunc)
	for {
		select {
		case <-ctx.Done():
			e.shutdown(devices)
			return
		case req := <-e.requests:
			switch req.kind {
			case requestSnapshot:
				req.reply <- sortedIDs(devices)
			default:
				e.handle(ctx, devices, req.cmd)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, devices map[string]context.CancelFunc, cmd models.Command) {
	switch cmd.Type {
	case models.CommandAddDevice:
		e.addDevice(ctx, devices, cmd.DeviceID)
	case models.CommandRemoveDevice:
		e.removeDevice(devices, cmd.DeviceID)
	default:
		e.logger.Warn("Unknown command", zap.String("type", cmd.Type))
		e.report(models.ErrorReport(cmd.DeviceID, fmt.Errorf("unknown command type: %q", cmd.Type)))
	}
}

func (e *Engine) addDevice(ctx context.Context, devices map[string]context.CancelFunc, id string) {
	if id == "" {
		e.report(models.ErrorReport("", fmt.Errorf("deviceId is required")))
		return
	}
	if _, exists := devices[id]; exists {
		e.logger.Warn("Device already running", zap.String("device_id", id))
		e.report(models.ErrorReport(id, fmt.Errorf("%w: %s", models.ErrAlreadyExists, id)))
		return
	}

	deviceCtx, cancel := context.WithCancel(ctx)
	devices[id] = cancel
	e.wg.Add(1)
	go e.runDevice(deviceCtx, id)

	e.logger.Info("Device added", zap.String("device_id", id), zap.Int("active_devices", len(devices)))
}

func (e *Engine) removeDevice(devices map[string]context.CancelFunc, id string) {
	cancel, exists := devices[id]
	if !exists {
		e.logger.Warn("Device not running", zap.String("device_id", id))
		e.report(models.DeviceRemoved(id, false))
		return
	}

	cancel()
	delete(devices, id)

	e.logger.Info("Device removed", zap.String("device_id", id), zap.Int("active_devices", len(devices)))
	e.report(models.DeviceRemoved(id, true))
}

func (e *Engine) shutdown(devices map[string]context.CancelFunc) {
	e.stopOnce.Do(func() { close(e.stopped) })

	e.logger.Info("Stopping device engine", zap.Int("active_devices", len(devices)))
	for id, cancel := range devices {
		cancel()
		delete(devices, id)
	}

	e.wg.Wait()

	if err := e.publisher.Close(); err != nil {
		e.logger.Error("Failed to close publisher", zap.Error(err))
	}

	close(e.reports)
	e.logger.Info("Device engine stopped")
}

// report blocks until the consumer takes the report. Reports are never dropped.
func (e *Engine) report(r models.Report) {
	e.reports <- r
}

func sortedIDs(devices map[string]context.CancelFunc) []string {
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
