package msg

import (
	"os"
	"strings"
)

// Config holds Kafka configuration
type Config struct {
	Brokers  []string
	ClientID string
}

// Topic names
const (
	// TopicTicksLive carries every tick accepted by the ingress router,
	// keyed by symbol.
	TopicTicksLive = "ticks.live"

	// TopicMissionsProposed is written by the external signal engine and
	// consumed by the mission intake.
	TopicMissionsProposed = "missions.proposed"

	// TopicFireEvents carries fire audit events published from the outbox.
	TopicFireEvents = "fires.events"

	// TopicTradeResults hands terminal confirmations to the external
	// trade-result tracker.
	TopicTradeResults = "trades.results"
)

// LoadConfig loads Kafka configuration from environment variables
func LoadConfig() *Config {
	brokersStr := getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092")
	brokers := strings.Split(brokersStr, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	return &Config{
		Brokers:  brokers,
		ClientID: getEnvAsString("KAFKA_CLIENT_ID", "signalgate"),
	}
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
