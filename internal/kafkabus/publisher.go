package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State of the shared broker connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MessageWriter is the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopicEnsurer prepares the destination topic before the first write
type TopicEnsurer interface {
	EnsureTopic(ctx context.Context) error
}

var errClosed = errors.New("publisher closed")

// Publisher owns the single writer shared by every device loop. The writer is built lazily
// on the first Publish and concurrent first callers share one connect attempt.
type Publisher struct {
	topic     string
	ensurer   TopicEnsurer
	newWriter func() MessageWriter
	logger    *zap.Logger

	group singleflight.Group

	mu     sync.RWMutex
	state  State
	writer MessageWriter
	closed bool
}

// NewPublisher creates a publisher writing to cfg.Topic through a kafka-go writer
func NewPublisher(cfg config.KafkaConfig, admin TopicEnsurer, logger *zap.Logger) *Publisher {
	return NewPublisherWithWriter(cfg.Topic, admin, func() MessageWriter { return newWriter(cfg) }, logger)
}

// NewPublisherWithWriter creates a publisher with a custom writer factory
func NewPublisherWithWriter(topic string, ensurer TopicEnsurer, factory func() MessageWriter, logger *zap.Logger) *Publisher {
	return &Publisher{
		topic:     topic,
		ensurer:   ensurer,
		newWriter: factory,
		logger:    logger,
	}
}

func newWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.Retries,
		BatchBytes:   cfg.MaxRequestSize,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.RequestTimeout,
		RequiredAcks: kafka.RequireAll,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
}

// State returns the current connection state
func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Publish sends one event keyed by its device id
func (p *Publisher) Publish(ctx context.Context, event *models.Event) error {
	w, err := p.ready(ctx)
	if err != nil {
		return err
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal event: %w", models.ErrPublish, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.DeviceID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(uuid.NewString())},
			{Key: "event-type", Value: []byte(event.EventType)},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPublish, err)
	}

	p.logger.Debug("Event published",
		zap.String("device_id", event.DeviceID),
		zap.String("topic", p.topic),
		zap.Int("bytes", len(value)))
	return nil
}

// ready returns the shared writer, connecting first if needed
func (p *Publisher) ready(ctx context.Context) (MessageWriter, error) {
	p.mu.RLock()
	w, closed := p.writer, p.closed
	p.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", models.ErrConnection, errClosed)
	}
	if w != nil {
		return w, nil
	}

	v, err, _ := p.group.Do("connect", func() (interface{}, error) {
		return p.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(MessageWriter), nil
}

func (p *Publisher) connect(ctx context.Context) (MessageWriter, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", models.ErrConnection, errClosed)
	}
	if p.writer != nil {
		w := p.writer
		p.mu.Unlock()
		return w, nil
	}
	p.state = StateConnecting
	p.mu.Unlock()

	p.logger.Info("Connecting to broker", zap.String("topic", p.topic))

	if err := p.ensurer.EnsureTopic(ctx); err != nil {
		p.mu.Lock()
		p.state = StateDisconnected
		p.mu.Unlock()
		p.logger.Error("Broker connect failed", zap.String("topic", p.topic), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", models.ErrConnection, err)
	}

	w := p.newWriter()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		// Close raced with the connect
		_ = w.Close()
		p.state = StateDisconnected
		return nil, fmt.Errorf("%w: %w", models.ErrConnection, errClosed)
	}
	p.writer = w
	p.state = StateReady
	p.logger.Info("Broker connection ready", zap.String("topic", p.topic))
	return w, nil
}

// Close flushes and releases the writer. Later publishes fail with ErrConnection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	w := p.writer
	p.writer = nil
	p.closed = true
	p.state = StateDisconnected
	p.mu.Unlock()

	if w == nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	p.logger.Info("Broker connection closed")
	return nil
}
