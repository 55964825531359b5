package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

const (
	reportQoS         = 0
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// Mirror republishes engine reports on per-device MQTT topics
type Mirror struct {
	client paho.Client
	prefix string
	logger *zap.Logger
}

// NewMirror connects to the broker named in cfg
func NewMirror(cfg config.MQTTConfig, logger *zap.Logger) (*Mirror, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("MQTT connection established", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	return newMirror(client, cfg.TopicPrefix, logger), nil
}

func newMirror(client paho.Client, prefix string, logger *zap.Logger) *Mirror {
	return &Mirror{client: client, prefix: prefix, logger: logger}
}

// Name identifies the mirror as a report sink
func (m *Mirror) Name() string { return "mqtt" }

// HandleReport publishes a report to <prefix>/<deviceId>/reports
func (m *Mirror) HandleReport(ctx context.Context, report models.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	topic := m.Topic(report.DeviceID)
	token := m.client.Publish(topic, reportQoS, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Topic returns the report topic for a device. Reports without a device go to <prefix>/reports.
func (m *Mirror) Topic(deviceID string) string {
	if deviceID == "" {
		return m.prefix + "/reports"
	}
	return fmt.Sprintf("%s/%s/reports", m.prefix, deviceID)
}

// Close disconnects from the broker
func (m *Mirror) Close() {
	m.client.Disconnect(disconnectQuiesce)
	m.logger.Info("MQTT client disconnected")
}
