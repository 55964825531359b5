package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Kafka    KafkaConfig
	Device   DeviceConfig
	Storage  StorageConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Fleet    FleetConfig
	LogLevel string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

// KafkaConfig holds broker, topic and producer configuration
type KafkaConfig struct {
	Brokers           []string
	ClientID          string
	Topic             string
	RetentionMs       int64
	RetentionBytes    int64
	Partitions        int
	ReplicationFactor int
	MaxRequestSize    int64
	RequestTimeout    time.Duration
	Retries           int
}

// DeviceConfig holds the per-device emission window
type DeviceConfig struct {
	MinInterval   time.Duration
	MaxInterval   time.Duration
	TickTimeout   time.Duration
	RenderWorkers int
}

// StorageConfig holds local image persistence configuration
type StorageConfig struct {
	SaveImages      bool
	Folder          string
	Timezone        string
	CleanupInterval time.Duration
	MaxAgeHours     int
}

// RedisConfig holds Redis-related configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string
}

// MQTTConfig holds report mirror configuration. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// FleetConfig points at an optional YAML file of devices to add at startup
type FleetConfig struct {
	File string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", ""),
			Port:         getEnvAsInt("SERVER_PORT", 3000),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClientID:          getEnv("KAFKA_CLIENT_ID", "device-event-producer"),
			Topic:             getEnv("KAFKA_TOPIC", "device-events"),
			RetentionMs:       int64(getEnvAsInt("KAFKA_RETENTION_MS", 3600000)), // 1 hour
			RetentionBytes:    int64(getEnvAsInt("KAFKA_RETENTION_BYTES", -1)),
			Partitions:        getEnvAsInt("KAFKA_PARTITIONS", 3),
			ReplicationFactor: getEnvAsInt("KAFKA_REPLICATION_FACTOR", 1),
			MaxRequestSize:    int64(getEnvAsInt("KAFKA_MAX_REQUEST_SIZE", 10485760)), // room for image payloads
			RequestTimeout:    getEnvAsMillis("KAFKA_REQUEST_TIMEOUT_MS", 30000),
			Retries:           getEnvAsInt("KAFKA_RETRIES", 3),
		},
		Device: DeviceConfig{
			MinInterval:   getEnvAsMillis("MIN_EVENT_INTERVAL", 3000),
			MaxInterval:   getEnvAsMillis("MAX_EVENT_INTERVAL", 10000),
			TickTimeout:   getEnvAsMillis("TICK_TIMEOUT_MS", 60000),
			RenderWorkers: getEnvAsInt("RENDER_WORKERS", runtime.NumCPU()),
		},
		Storage: StorageConfig{
			SaveImages:      getEnvAsBool("SAVE_IMAGES", false),
			Folder:          getEnv("TMP_FOLDER", "./tmp/images"),
			Timezone:        getEnv("IMAGE_TIMEZONE", "UTC"),
			CleanupInterval: getEnvAsDuration("STORAGE_CLEANUP_INTERVAL", 0),
			MaxAgeHours:     getEnvAsInt("STORAGE_MAX_AGE_HOURS", 24),
		},
		Redis: RedisConfig{
			Addr:          getRedisAddr(),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "camera-sim"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", ""),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "camera-sim"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "camera-sim"),
		},
		Fleet: FleetConfig{
			File: getEnv("FLEET_FILE", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that would make the engine misbehave at runtime
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if c.Kafka.Partitions < 1 {
		return fmt.Errorf("KAFKA_PARTITIONS must be at least 1")
	}
	if c.Device.MinInterval < 0 || c.Device.MaxInterval < 0 {
		return fmt.Errorf("event intervals must not be negative")
	}
	if c.Device.MinInterval > c.Device.MaxInterval {
		return fmt.Errorf("MIN_EVENT_INTERVAL (%s) exceeds MAX_EVENT_INTERVAL (%s)",
			c.Device.MinInterval, c.Device.MaxInterval)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool accepts only "true" as true, everything else set is false
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(strings.TrimSpace(value), "true")
	}
	return defaultValue
}

// getEnvAsMillis reads an integer number of milliseconds
func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMillis)) * time.Millisecond
}

// getEnvAsDuration reads a Go duration string such as "15m"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsSlice splits a comma-separated variable, dropping empty entries
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getRedisAddr prefers REDIS_URL (with or without the redis:// prefix) over REDIS_ADDR.
// Redis is optional here, so the default is empty.
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "")
}
