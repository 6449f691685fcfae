package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/logging"
	"github.com/fxlabs-dev/signalgate/internal/msg"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <duration_seconds> [brokers]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 30 127.0.0.1:9092\n", os.Args[0])
		os.Exit(1)
	}

	var durationSeconds int
	if _, err := fmt.Sscanf(os.Args[1], "%d", &durationSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %v\n", err)
		os.Exit(1)
	}

	brokers := "127.0.0.1:9092"
	if len(os.Args) >= 3 {
		brokers = os.Args[2]
	}

	logger, err := logging.NewLogger("fire-verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	logger.Info("starting fire verifier",
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("brokers", brokerList),
	)

	consumer, err := msg.NewConsumer(brokerList, "fire-verifier-v1", []string{msg.TopicFireEvents}, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	// At-most-once holds on two axes: per idempotency key and per mission.
	keyCounts := make(map[string]int)
	missionFires := make(map[string][]string) // mission_id -> fire_ids

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		var event msg.FireEventMsg
		if err := json.Unmarshal(rec.Value, &event); err != nil {
			logger.Warn("failed to unmarshal fire event", zap.Error(err))
			return nil
		}

		keyCounts[event.IdempotencyKey]++
		fires := missionFires[event.MissionID]
		seen := false
		for _, id := range fires {
			if id == event.FireID {
				seen = true
				break
			}
		}
		if !seen {
			missionFires[event.MissionID] = append(fires, event.FireID)
		}

		logger.Debug("consumed fire event",
			zap.String("fire_id", event.FireID),
			zap.String("mission_id", event.MissionID),
			zap.String("idempotency_key", event.IdempotencyKey),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
		)
		return nil
	})
	if err != nil && err != context.DeadlineExceeded {
		logger.Error("consumer error", zap.Error(err))
	}

	totalEvents := 0
	keyViolations := make(map[string]int)
	for key, count := range keyCounts {
		totalEvents += count
		if count > 1 {
			keyViolations[key] = count
		}
	}

	missionViolations := make(map[string]int)
	for missionID, fires := range missionFires {
		if len(fires) > 1 {
			missionViolations[missionID] = len(fires)
		}
	}

	fmt.Println("\n=== Verification Results ===")
	fmt.Printf("Total fire events consumed: %d\n", totalEvents)
	fmt.Printf("Unique idempotency keys: %d\n", len(keyCounts))
	fmt.Printf("Missions fired: %d\n", len(missionFires))

	failed := false
	if len(keyViolations) > 0 {
		failed = true
		fmt.Println("\nIdempotency key violations:")
		for key, count := range keyViolations {
			fmt.Printf("  Key: %s, Events: %d\n", key, count)
		}
	}
	if len(missionViolations) > 0 {
		failed = true
		fmt.Println("\nMission violations (multiple distinct fires):")
		for missionID, count := range missionViolations {
			fmt.Printf("  Mission: %s, Distinct fires: %d\n", missionID, count)
		}
	}

	if failed {
		fmt.Println("\n❌ VERIFICATION FAILED: at-most-once violated!")
		os.Exit(1)
	}

	fmt.Println("\n✅ VERIFICATION PASSED: every key and mission fired at most once")
	os.Exit(0)
}
