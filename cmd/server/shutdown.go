package main

import (
	"context"
	"io"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

// shutdownTimeout leaves room for a tick that is still inside its own timeout
func shutdownTimeout(cfg config.DeviceConfig) time.Duration {
	if cfg.TickTimeout <= 0 {
		return shutdownGrace
	}
	return cfg.TickTimeout + shutdownGrace
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// stopEngine shuts the registrar and engine down. If that misses the deadline the engine
// never reaches its own publisher close, so the broker connection is released here.
func stopEngine(ctx context.Context, reg shutdowner, publisher io.Closer, logger *zap.Logger) {
	err := reg.Shutdown(ctx)
	if err == nil {
		return
	}
	logger.Warn("Shutdown timeout exceeded, closing broker connection directly", zap.Error(err))
	if err := publisher.Close(); err != nil {
		logger.Error("Failed to close publisher", zap.Error(err))
	}
}
