package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// CommandStream carries add/remove commands from remote operators
	CommandStream = "camsim:commands"
	// BroadcastChannel receives reports that are not tied to a device
	BroadcastChannel = "devices"
)

// Client wraps the Redis client for report pub/sub and the command stream
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient connects to Redis and prepares the command stream consumer group
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	// Generate consumer name if not provided
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	if err := client.initializeConsumerGroup(ctx); err != nil {
		logger.Warn("Failed to initialize consumer group", zap.Error(err))
	}

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Name identifies the client as a report sink
func (c *Client) Name() string { return "redis" }

// HandleReport publishes a report on its device channel
func (c *Client) HandleReport(ctx context.Context, report models.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	channel := ReportChannel(report.DeviceID)
	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published report",
		zap.String("channel", channel),
		zap.String("type", report.Type),
		zap.String("device_id", report.DeviceID))
	return nil
}

// ReportChannel is the pub/sub channel for a device's reports
func ReportChannel(deviceID string) string {
	if deviceID == "" {
		return BroadcastChannel
	}
	return fmt.Sprintf("device:%s", deviceID)
}

// EnqueueCommand appends a command to the command stream
func (c *Client) EnqueueCommand(ctx context.Context, cmd models.Command) (string, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: CommandStream,
		Values: map[string]interface{}{"payload": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add command to stream: %w", err)
	}
	return id, nil
}

// initializeConsumerGroup creates the consumer group for the command stream
func (c *Client) initializeConsumerGroup(ctx context.Context) error {
	// "$" skips commands queued while no simulator was running
	err := c.client.XGroupCreateMkStream(ctx, CommandStream, c.config.ConsumerGroup, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", CommandStream),
		zap.String("group", c.config.ConsumerGroup))
	return nil
}

// ReadFromStream reads new commands using the consumer group
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{CommandStream, ">"},
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the command stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, CommandStream, c.config.ConsumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}
	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
