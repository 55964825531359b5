package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/camera-sim/internal/registrar"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const retryDelay = 5 * time.Second

// CommandHandler applies device commands, normally the registrar
type CommandHandler interface {
	AddDevice(id string) (*registrar.Result, error)
	RemoveDevice(id string) (*registrar.Result, error)
}

// streamSource is the part of Client the consumer reads through
type streamSource interface {
	ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error)
	AcknowledgeMessage(ctx context.Context, messageID string) error
	IsHealthy(ctx context.Context) bool
}

// Consumer feeds commands from the Redis stream into the registrar
type Consumer struct {
	source  streamSource
	handler CommandHandler
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConsumer creates a new command stream consumer
func NewConsumer(client *Client, handler CommandHandler, logger *zap.Logger) *Consumer {
	return newConsumer(client, handler, logger)
}

func newConsumer(source streamSource, handler CommandHandler, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		source:  source,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start consumes commands until Stop is called
func (c *Consumer) Start() error {
	c.logger.Info("Starting Redis command consumer", zap.String("stream", CommandStream))

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Redis command consumer stopped")
			return nil
		default:
			if err := c.consumeMessages(); err != nil {
				c.logger.Error("Error consuming commands, will retry",
					zap.Error(err),
					zap.Duration("retry_delay", retryDelay))
				select {
				case <-time.After(retryDelay):
				case <-c.ctx.Done():
				}
			}
		}
	}
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Redis command consumer")
	c.cancel()
}

func (c *Consumer) consumeMessages() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
		}

		streams, err := c.source.ReadFromStream(c.ctx, 10, 5*time.Second)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			if !c.source.IsHealthy(c.ctx) {
				return fmt.Errorf("redis connection unhealthy: %w", err)
			}
			c.logger.Error("Error reading from stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.handleStreamMessage(message)
			}
		}
	}
}

// handleStreamMessage applies one command. Every message is acknowledged, including
// malformed ones and commands the registrar rejects, since retrying cannot change the outcome.
func (c *Consumer) handleStreamMessage(msg redis.XMessage) {
	defer func() {
		if err := c.source.AcknowledgeMessage(c.ctx, msg.ID); err != nil {
			c.logger.Error("Failed to acknowledge message",
				zap.Error(err),
				zap.String("message_id", msg.ID))
		}
	}()

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		c.logger.Error("Failed to extract payload from stream message",
			zap.String("message_id", msg.ID))
		return
	}

	cmd, err := models.ParseCommand([]byte(payload))
	if err != nil {
		c.logger.Error("Invalid command",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("payload", payload))
		return
	}

	switch cmd.Type {
	case models.CommandAddDevice:
		_, err = c.handler.AddDevice(cmd.DeviceID)
	case models.CommandRemoveDevice:
		_, err = c.handler.RemoveDevice(cmd.DeviceID)
	}
	if err != nil {
		c.logger.Warn("Command rejected",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("type", cmd.Type),
			zap.String("device_id", cmd.DeviceID))
		return
	}

	c.logger.Debug("Command applied",
		zap.String("message_id", msg.ID),
		zap.String("type", cmd.Type),
		zap.String("device_id", cmd.DeviceID))
}
