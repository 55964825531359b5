package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/internal/engine"
	"github.com/koios/camera-sim/internal/handlers"
	"github.com/koios/camera-sim/internal/kafkabus"
	"github.com/koios/camera-sim/internal/metrics"
	"github.com/koios/camera-sim/internal/mqtt"
	"github.com/koios/camera-sim/internal/redis"
	"github.com/koios/camera-sim/internal/registrar"
	"github.com/koios/camera-sim/internal/render"
	"github.com/koios/camera-sim/internal/storage"
	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Image pipeline
	generator, err := render.NewGenerator()
	if err != nil {
		logger.Fatal("Failed to initialize image generator", zap.Error(err))
	}
	renderPool := render.NewPool(generator, cfg.Device.RenderWorkers, logger)
	renderPool.Start()

	store := storage.New(cfg.Storage, logger)
	if store.Enabled() && cfg.Storage.CleanupInterval > 0 {
		go store.StartRetentionSweep(ctx, cfg.Storage.CleanupInterval, time.Duration(cfg.Storage.MaxAgeHours)*time.Hour)
	}

	// Broker
	admin := kafkabus.NewAdmin(cfg.Kafka, logger)
	publisher := kafkabus.NewPublisher(cfg.Kafka, admin, logger)

	eng := engine.New(cfg.Device, renderPool, store, publisher, logger)

	m := metrics.New()
	sinks := []registrar.ReportSink{m}

	// Optional Redis report fan-out and command stream
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without it", zap.Error(err))
		} else {
			sinks = append(sinks, redisClient)
		}
	}

	// Optional MQTT report mirror
	var mirror *mqtt.Mirror
	if cfg.MQTT.Broker != "" {
		mirror, err = mqtt.NewMirror(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, continuing without it", zap.Error(err))
		} else {
			sinks = append(sinks, mirror)
		}
	}

	reg := registrar.NewService(eng, logger, sinks...)
	m.TrackActiveDevices(reg.Count)
	reg.Start(ctx)

	var consumer *redis.Consumer
	if redisClient != nil {
		consumer = redis.NewConsumer(redisClient, reg, logger)
		go func() {
			if err := consumer.Start(); err != nil {
				logger.Error("Command consumer stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Fleet.File != "" {
		seedFleet(cfg.Fleet.File, reg, logger)
	}

	// HTTP API
	deviceHandler := handlers.NewDeviceHandler(reg, store, admin, handlers.Options{
		Topic:       cfg.Kafka.Topic,
		RetentionMs: cfg.Kafka.RetentionMs,
		MaxAgeHours: cfg.Storage.MaxAgeHours,
	}, logger)
	router := handlers.NewRouter(deviceHandler, logger,
		map[string]http.Handler{"/metrics": m.Handler()},
		m.Middleware)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Simulator started",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.Duration("min_interval", cfg.Device.MinInterval),
		zap.Duration("max_interval", cfg.Device.MaxInterval),
		zap.Bool("save_images", store.Enabled()))

	// Wait for interrupt signal or a fatal server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	logger.Info("Shutting down simulator...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Device))
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	if consumer != nil {
		consumer.Stop()
	}

	// Stops every device loop and closes the publisher
	stopEngine(shutdownCtx, reg, publisher, logger)

	renderPool.Stop()

	if mirror != nil {
		mirror.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}

	cancel()
	logger.Info("Simulator shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func seedFleet(path string, reg *registrar.Service, logger *zap.Logger) {
	fleet, err := models.LoadFleet(path)
	if err != nil {
		logger.Error("Failed to load fleet file", zap.String("path", path), zap.Error(err))
		return
	}

	added := 0
	for _, id := range fleet.DeviceIDs() {
		if _, err := reg.AddDevice(id); err != nil {
			logger.Warn("Failed to seed device", zap.String("device_id", id), zap.Error(err))
			continue
		}
		added++
	}
	logger.Info("Fleet seeded", zap.String("path", path), zap.Int("devices", added))
}
