// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	Environment string // "prod" enables self-message filtering

	// Session gateway.
	GatewayURL string
	AuthDir    string

	// Reconnect policy.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration // 0 = retry immediately

	// Redis cache.
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// RabbitMQ.
	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string
	QueueName        string
	MaxRedeliveries  int // 0 = rely on broker redelivery indefinitely

	// Audit store.
	AuditDBPath string

	// Broadcaster. The legacy timer fired every 150s while the surrounding
	// code talked about "every 5 minutes"; both are knobs here so operators
	// can settle the discrepancy without a deploy.
	BroadcastInterval    time.Duration
	BroadcastSuppression time.Duration

	// Command router collaborators.
	TibiaAPIURL   string
	TibiaAgentURL string
	ImagesDir     string

	// Destination sets (comma-separated group JIDs).
	TibiaGroups  []string
	BanterGroups []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "dev"),

		GatewayURL: getEnv("GATEWAY_URL", "ws://localhost:8090/ws"),
		AuthDir:    getEnv("AUTH_DIR", "./data/auth_info"),

		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", 0),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		RabbitMQHost:     getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:     getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:     getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword: getEnv("RABBITMQ_PASSWORD", "guest"),
		QueueName:        getEnv("QUEUE_NAME", "notification_queue"),
		MaxRedeliveries:  getEnvInt("NOTIFY_MAX_REDELIVERIES", 0),

		AuditDBPath: getEnv("AUDIT_DB_PATH", "./data/audit.db"),

		BroadcastInterval:    getEnvDuration("BROADCAST_INTERVAL", 150*time.Second),
		BroadcastSuppression: getEnvDuration("BROADCAST_SUPPRESSION", 30*time.Minute),

		TibiaAPIURL:   getEnv("TIBIA_API_URL", "https://api.tibiadata.com/v4"),
		TibiaAgentURL: getEnv("TIBIA_AGENT_URL", "http://localhost:8045"),
		ImagesDir:     getEnv("IMAGES_DIR", "./data/boss_images"),

		TibiaGroups:  splitList(getEnv("TIBIA_GROUPS", "")),
		BanterGroups: splitList(getEnv("BANTER_GROUPS", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL cannot be empty")
	}
	if c.AuthDir == "" {
		return fmt.Errorf("AUTH_DIR cannot be empty")
	}
	if c.AuditDBPath == "" {
		return fmt.Errorf("AUDIT_DB_PATH cannot be empty")
	}
	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME cannot be empty")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be > 0")
	}
	if c.BroadcastInterval <= 0 {
		return fmt.Errorf("BROADCAST_INTERVAL must be > 0")
	}
	if c.BroadcastSuppression <= 0 {
		return fmt.Errorf("BROADCAST_SUPPRESSION must be > 0")
	}
	if c.MaxRedeliveries < 0 {
		return fmt.Errorf("NOTIFY_MAX_REDELIVERIES cannot be negative")
	}
	return nil
}

// IsProduction returns true when running against the production session.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "prod")
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// AMQPURL returns the RabbitMQ connection URL.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort)
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
