package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the gateway and its tools
type Config struct {
	// Service name
	ServiceName string

	// TCP address the terminal feed listener binds to
	FeedAddr string

	// HTTP port for the fire/mission API
	APIPort int

	// HTTP port for health and metrics
	HTTPPort int

	// gRPC port for the health service
	GRPCPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Kafka brokers (comma-separated)
	KafkaBrokers string

	// Directory for the SQLite stores
	DataDir string

	// Secret used to sign mission capability links
	CapabilitySecret string

	// Instrument whitelist (comma-separated symbols)
	Symbols []string

	// Stale client sessions are pruned past this age
	SessionTTL time.Duration

	// Period of the session prune and mission expiry sweeps
	SweepInterval time.Duration
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig(serviceName string) *Config {
	cfg := &Config{
		ServiceName:      serviceName,
		FeedAddr:         getEnvAsString("FEED_ADDR", ":7100"),
		APIPort:          getEnvAsInt("PORT_API", 8090),
		HTTPPort:         getEnvAsInt("PORT_HTTP", 8080),
		GRPCPort:         getEnvAsInt("PORT_GRPC", 50051),
		LogLevel:         getEnvAsString("LOG_LEVEL", "info"),
		KafkaBrokers:     getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		DataDir:          getEnvAsString("DATA_DIR", "./data"),
		CapabilitySecret: getEnvAsString("CAPABILITY_SECRET", "dev-only-secret"),
		Symbols:          getEnvAsList("SYMBOL_WHITELIST", "EURUSD,GBPUSD,USDJPY,AUDUSD,USDCAD,XAUUSD"),
		SessionTTL:       getEnvAsDuration("SESSION_TTL", 90*time.Second),
		SweepInterval:    getEnvAsDuration("SWEEP_INTERVAL", 15*time.Second),
	}

	return cfg
}

// Brokers returns the Kafka broker list split and trimmed
func (c *Config) Brokers() []string {
	brokers := strings.Split(c.KafkaBrokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}

// APIAddr returns the fire API listen address
func (c *Config) APIAddr() string {
	return fmt.Sprintf(":%d", c.APIPort)
}

// HTTPAddr returns the health/metrics listen address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GRPCAddr returns the gRPC health listen address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnvAsString(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
