package kafkabus

import (
	"errors"
	"testing"
	"time"

	"github.com/koios/camera-sim/internal/config"
	"go.uber.org/zap"
)

func TestParseRetention(t *testing.T) {
	testCases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"60s", time.Minute, false},
		{"30m", 30 * time.Minute, false},
		{"1h", time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{" 2h ", 2 * time.Hour, false},
		{"1.5h", 0, true},
		{"h", 0, true},
		{"10w", 0, true},
		{"", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRetention(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestTopicConfig(t *testing.T) {
	cfg := config.KafkaConfig{
		Topic:             "device-events",
		Partitions:        3,
		ReplicationFactor: 1,
		RetentionMs:       3600000,
		RetentionBytes:    -1,
	}
	tc := NewAdmin(cfg, zap.NewNop()).topicConfig()

	if tc.Topic != "device-events" || tc.NumPartitions != 3 || tc.ReplicationFactor != 1 {
		t.Errorf("got %+v", tc)
	}

	entries := map[string]string{}
	for _, e := range tc.ConfigEntries {
		entries[e.ConfigName] = e.ConfigValue
	}
	want := map[string]string{
		"retention.ms":        "3600000",
		"cleanup.policy":      "delete",
		"segment.ms":          "300000",
		"delete.retention.ms": "60000",
	}
	for k, v := range want {
		if entries[k] != v {
			t.Errorf("%s = %q, want %q", k, entries[k], v)
		}
	}
	if _, ok := entries["retention.bytes"]; ok {
		t.Error("retention.bytes should be omitted when unlimited")
	}

	cfg.RetentionBytes = 1 << 30
	tc = NewAdmin(cfg, zap.NewNop()).topicConfig()
	found := false
	for _, e := range tc.ConfigEntries {
		if e.ConfigName == "retention.bytes" && e.ConfigValue == "1073741824" {
			found = true
		}
	}
	if !found {
		t.Error("retention.bytes missing")
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if isAlreadyExists(nil) {
		t.Error("nil is not an already-exists error")
	}
	if !isAlreadyExists(errors.New("[36] Topic Already Exists: Topic with this name already exists")) {
		t.Error("expected match")
	}
	if isAlreadyExists(errors.New("connection refused")) {
		t.Error("unexpected match")
	}
}
