package kafkabus

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	dialTimeout = 10 * time.Second

	// Fixed topic settings applied on creation alongside the configured retention
	segmentMs         = 300000
	deleteRetentionMs = 60000
	cleanupPolicy     = "delete"
)

// PartitionInfo describes one partition of the events topic
type PartitionInfo struct {
	ID       int    `json:"partitionId"`
	Leader   string `json:"leader"`
	Replicas int    `json:"replicas"`
	ISR      int    `json:"isr"`
}

// TopicInfo is the broker's view of the events topic
type TopicInfo struct {
	Topic       string          `json:"topic"`
	Partitions  []PartitionInfo `json:"partitions"`
	RetentionMs string          `json:"retentionMs,omitempty"`
}

// Admin provisions and inspects the events topic
type Admin struct {
	cfg    config.KafkaConfig
	logger *zap.Logger
}

// NewAdmin creates a topic admin for cfg.Topic
func NewAdmin(cfg config.KafkaConfig, logger *zap.Logger) *Admin {
	return &Admin{cfg: cfg, logger: logger}
}

// EnsureTopic creates the events topic if it does not exist. An existing topic is left untouched.
func (a *Admin) EnsureTopic(ctx context.Context) error {
	conn, err := a.dialController(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	exists, err := topicExists(conn, a.cfg.Topic)
	if err != nil {
		return err
	}
	if exists {
		a.logger.Debug("Topic already exists", zap.String("topic", a.cfg.Topic))
		return nil
	}

	if err := conn.CreateTopics(a.topicConfig()); err != nil {
		if !isAlreadyExists(err) {
			return fmt.Errorf("failed to create topic %s: %w", a.cfg.Topic, err)
		}
		return nil
	}

	a.logger.Info("Created topic",
		zap.String("topic", a.cfg.Topic),
		zap.Int("partitions", a.cfg.Partitions),
		zap.Int("replication_factor", a.cfg.ReplicationFactor),
		zap.Int64("retention_ms", a.cfg.RetentionMs))
	return nil
}

// UpdateRetention changes retention.ms on the existing topic
func (a *Admin) UpdateRetention(ctx context.Context, retention time.Duration) error {
	client := a.client()
	resp, err := client.AlterConfigs(ctx, &kafka.AlterConfigsRequest{
		Resources: []kafka.AlterConfigRequestResource{{
			ResourceType: kafka.ResourceTypeTopic,
			ResourceName: a.cfg.Topic,
			Configs: []kafka.AlterConfigRequestConfig{
				{Name: "retention.ms", Value: strconv.FormatInt(retention.Milliseconds(), 10)},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to alter topic config: %w", err)
	}
	for resource, rerr := range resp.Errors {
		if rerr != nil {
			return fmt.Errorf("failed to alter config of %s: %w", resource.Name, rerr)
		}
	}

	a.logger.Info("Updated topic retention",
		zap.String("topic", a.cfg.Topic),
		zap.Duration("retention", retention))
	return nil
}

// TopicInfo returns partitions, leaders and the current retention of the events topic
func (a *Admin) TopicInfo(ctx context.Context) (*TopicInfo, error) {
	conn, err := a.dialController(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(a.cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions for %s: %w", a.cfg.Topic, err)
	}

	info := &TopicInfo{Topic: a.cfg.Topic}
	for _, p := range partitions {
		if p.Topic != a.cfg.Topic {
			continue
		}
		info.Partitions = append(info.Partitions, PartitionInfo{
			ID:       p.ID,
			Leader:   net.JoinHostPort(p.Leader.Host, strconv.Itoa(p.Leader.Port)),
			Replicas: len(p.Replicas),
			ISR:      len(p.Isr),
		})
	}
	sort.Slice(info.Partitions, func(i, j int) bool {
		return info.Partitions[i].ID < info.Partitions[j].ID
	})

	resp, err := a.client().DescribeConfigs(ctx, &kafka.DescribeConfigsRequest{
		Resources: []kafka.DescribeConfigRequestResource{{
			ResourceType: kafka.ResourceTypeTopic,
			ResourceName: a.cfg.Topic,
			ConfigNames:  []string{"retention.ms"},
		}},
	})
	if err != nil {
		a.logger.Warn("Failed to describe topic config", zap.String("topic", a.cfg.Topic), zap.Error(err))
		return info, nil
	}
	for _, res := range resp.Resources {
		for _, entry := range res.ConfigEntries {
			if entry.ConfigName == "retention.ms" {
				info.RetentionMs = entry.ConfigValue
			}
		}
	}
	return info, nil
}

func (a *Admin) client() *kafka.Client {
	return &kafka.Client{
		Addr:      kafka.TCP(a.cfg.Brokers...),
		Timeout:   dialTimeout,
		Transport: &kafka.Transport{ClientID: a.cfg.ClientID},
	}
}

// dialController connects to the first reachable broker and then to the cluster controller,
// which is the only broker that accepts topic creation.
func (a *Admin) dialController(ctx context.Context) (*kafka.Conn, error) {
	dialer := &kafka.Dialer{ClientID: a.cfg.ClientID, Timeout: dialTimeout}

	var (
		conn    *kafka.Conn
		lastErr error
	)
	for _, broker := range a.cfg.Brokers {
		c, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn = c
		break
	}
	if conn == nil {
		return nil, fmt.Errorf("failed to dial brokers %v: %w", a.cfg.Brokers, lastErr)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch controller metadata: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial controller %s: %w", addr, err)
	}
	if err := ctrl.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		a.logger.Warn("Failed to set controller deadline", zap.Error(err))
	}
	return ctrl, nil
}

func (a *Admin) topicConfig() kafka.TopicConfig {
	entries := []kafka.ConfigEntry{
		{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(a.cfg.RetentionMs, 10)},
		{ConfigName: "cleanup.policy", ConfigValue: cleanupPolicy},
		{ConfigName: "segment.ms", ConfigValue: strconv.Itoa(segmentMs)},
		{ConfigName: "delete.retention.ms", ConfigValue: strconv.Itoa(deleteRetentionMs)},
	}
	if a.cfg.RetentionBytes > 0 {
		entries = append(entries, kafka.ConfigEntry{
			ConfigName:  "retention.bytes",
			ConfigValue: strconv.FormatInt(a.cfg.RetentionBytes, 10),
		})
	}
	return kafka.TopicConfig{
		Topic:             a.cfg.Topic,
		NumPartitions:     a.cfg.Partitions,
		ReplicationFactor: a.cfg.ReplicationFactor,
		ConfigEntries:     entries,
	}
}

func topicExists(conn *kafka.Conn, topic string) (bool, error) {
	partitions, err := conn.ReadPartitions()
	if err != nil {
		return false, fmt.Errorf("failed to list topics: %w", err)
	}
	for _, p := range partitions {
		if p.Topic == topic {
			return true, nil
		}
	}
	return false, nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "Topic with this name already exists")
}

var retentionPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseRetention parses a retention period such as "30s", "15m", "1h" or "7d"
func ParseRetention(s string) (time.Duration, error) {
	m := retentionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid retention %q: use a number followed by s, m, h or d", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid retention %q: %w", s, err)
	}

	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}
