package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
	zoneCount       = 5
	cameraActive    = "active"
)

// runDevice emits one event, sleeps for a random interval, and repeats until ctx is cancelled.
// The next tick is only scheduled after the current one returns, so ticks never overlap.
func (e *Engine) runDevice(ctx context.Context, id string) {
	defer e.wg.Done()

	e.logger.Debug("Device loop started", zap.String("device_id", id))
	defer e.logger.Debug("Device loop stopped", zap.String("device_id", id))

	for {
		if ctx.Err() != nil {
			return
		}

		e.tick(ctx, id)

		timer := time.NewTimer(e.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs detached from the device's cancellation so a removed device still finishes
// and reports its in-flight event.
func (e *Engine) tick(ctx context.Context, id string) {
	tickCtx := context.WithoutCancel(ctx)
	if e.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(tickCtx, e.cfg.TickTimeout)
		defer cancel()
	}

	event, err := e.buildEvent(id)
	if err != nil {
		e.logger.Error("Failed to build event", zap.String("device_id", id), zap.Error(err))
		e.report(models.ErrorReport(id, err))
		return
	}

	if err := e.publisher.Publish(tickCtx, event); err != nil {
		e.logger.Error("Failed to publish event", zap.String("device_id", id), zap.Error(err))
		e.report(models.ErrorReport(id, err))
		return
	}

	e.logger.Debug("Event sent",
		zap.String("device_id", id),
		zap.String("position", event.Image.Position),
		zap.Int("image_size", event.Image.Size))
	e.report(models.EventSent(id, event.Timestamp))
}

// buildEvent renders a frame, optionally persists it, and assembles the event payload
func (e *Engine) buildEvent(id string) (event *models.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			event = nil
			err = fmt.Errorf("%w: panic: %v", models.ErrGeneration, r)
		}
	}()

	now := e.now().UTC()

	img, err := e.generator.Generate(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}

	var saved *models.SavedImage
	if e.store != nil {
		if rec := e.store.Save(img.Data, id, img.Position, now); rec != nil {
			saved = &models.SavedImage{
				Filename: rec.Filename,
				Filepath: rec.Filepath,
				DiskSize: rec.Size,
			}
		}
	}

	crop := img.Crop
	crop.Position = img.Position

	e.rngMu.Lock()
	value := round(e.rng.Float64()*100, 2)
	meta := models.Metadata{
		Location:      fmt.Sprintf("zone_%d", e.rng.Intn(zoneCount)+1),
		Battery:       e.rng.Intn(100) + 1,
		Temperature:   round(e.rng.Float64()*50+10, 1),
		Humidity:      round(e.rng.Float64()*80+20, 1),
		CameraStatus:  cameraActive,
		RecordingMode: models.RecordingMotionDetected,
	}
	if e.rng.Float64() > 0.5 {
		meta.RecordingMode = models.RecordingContinuous
	}
	e.rngMu.Unlock()

	return &models.Event{
		DeviceID:  id,
		Timestamp: now.Format(timestampLayout),
		Value:     value,
		EventType: models.EventTypeCameraCapture,
		Image: models.ImagePayload{
			Base64:     img.Base64,
			Position:   img.Position,
			Dimensions: models.Dimensions{Width: img.Width, Height: img.Height},
			Format:     img.Format,
			Size:       img.Size(),
			Saved:      saved,
		},
		DeviceTextCrop:   crop,
		BackgroundColors: img.Colors,
		Metadata:         meta,
	}, nil
}

func (e *Engine) nextDelay() time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return randomInterval(e.cfg.MinInterval, e.cfg.MaxInterval, e.rng)
}

// randomInterval draws a whole number of milliseconds uniformly from [minInterval, maxInterval]
func randomInterval(minInterval, maxInterval time.Duration, rng *rand.Rand) time.Duration {
	lo, hi := minInterval.Milliseconds(), maxInterval.Milliseconds()
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	return time.Duration(lo+rng.Int63n(hi-lo+1)) * time.Millisecond
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
