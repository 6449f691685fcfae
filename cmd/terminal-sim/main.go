package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/chaos"
	"github.com/fxlabs-dev/signalgate/internal/logging"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

type outboundEnvelope struct {
	Version    int       `json:"v"`
	Type       wire.Kind `json:"type"`
	TerminalID string    `json:"terminal_id"`
	Data       any       `json:"data,omitempty"`
}

func main() {
	var (
		addr         = flag.String("addr", "127.0.0.1:7100", "Gateway feed address")
		terminalID   = flag.String("terminal-id", "sim-1", "Terminal identifier")
		symbols      = flag.String("symbols", "EURUSD,GBPUSD", "Comma-separated symbols to quote")
		count        = flag.Int("count", 500, "Number of ticks to send (0 = unlimited)")
		intervalMs   = flag.Int("interval-ms", 50, "Delay between ticks in milliseconds")
		seed         = flag.Int64("seed", 42, "Random seed for deterministic quotes")
		chaosEnabled = flag.Bool("chaos", false, "Enable fault injection")
		chaosProfile = flag.String("chaos-profile", "frag-pct=40,delay=5-25", "Fault profile, e.g. drop-pct=5,frag-pct=40,delay=10-50")
		heartbeatSec = flag.Int("heartbeat-sec", 10, "Heartbeat interval in seconds")
	)
	flag.Parse()

	logger, err := logging.NewLogger("terminal-sim", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	symbolList := strings.Split(*symbols, ",")
	for i := range symbolList {
		symbolList[i] = strings.TrimSpace(symbolList[i])
	}

	logger.Info("starting terminal simulator",
		zap.String("addr", *addr),
		zap.String("terminal_id", *terminalID),
		zap.Strings("symbols", symbolList),
		zap.Int("count", *count),
		zap.Int64("seed", *seed),
		zap.Bool("chaos", *chaosEnabled),
	)

	injector := chaos.New(&chaos.Config{
		Enabled: *chaosEnabled,
		Profile: *chaosProfile,
		Seed:    *seed,
	}, logger)

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.Fatal("failed to connect to gateway", zap.Error(err))
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Print every command the gateway pushes back.
	var commandCount int64
	go func() {
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				cancel()
				return
			}
			var cmd wire.OrderCommand
			if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &cmd); err != nil {
				logger.Warn("unparseable inbound command", zap.String("line", line))
				continue
			}
			atomic.AddInt64(&commandCount, 1)
			fmt.Printf("COMMAND %s %s %s lot=%.2f entry=%.5f sl=%.5f tp=%.5f (fire_id=%s)\n",
				cmd.Type, cmd.Side, cmd.Symbol, cmd.Lot, cmd.Entry, cmd.StopLoss, cmd.TakeProfit, cmd.FireID)
		}
	}()

	rng := rand.New(rand.NewSource(*seed))

	send := func(env outboundEnvelope) error {
		line, err := json.Marshal(env)
		if err != nil {
			return err
		}
		line = append(line, wire.Delimiter)

		if injector.MaybeDrop() {
			return nil
		}
		if err := injector.MaybeDelay(ctx); err != nil {
			return err
		}
		for _, chunk := range injector.Fragment(line) {
			if _, err := conn.Write(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	// Startup frame identifies the terminal before any quotes.
	if err := send(outboundEnvelope{
		Version:    wire.SchemaVersion,
		Type:       wire.KindStartup,
		TerminalID: *terminalID,
		Data:       wire.Startup{Account: "sim-account", Broker: "sim-broker", Balance: 10000},
	}); err != nil {
		logger.Fatal("failed to send startup frame", zap.Error(err))
	}

	// Random-walk quotes per symbol.
	mid := make(map[string]float64, len(symbolList))
	for _, s := range symbolList {
		mid[s] = 1.0 + rng.Float64()*0.5
		if strings.HasSuffix(s, "JPY") {
			mid[s] = 140.0 + rng.Float64()*10.0
		}
	}

	lastHeartbeat := time.Now()
	sent := 0

	for *count == 0 || sent < *count {
		if ctx.Err() != nil {
			break
		}

		symbol := symbolList[sent%len(symbolList)]
		mid[symbol] += (rng.Float64() - 0.5) * 0.0010
		spread := 0.0001 + rng.Float64()*0.0002

		tick := wire.Tick{
			Symbol:       symbol,
			Bid:          mid[symbol] - spread/2,
			Ask:          mid[symbol] + spread/2,
			Spread:       spread,
			Volume:       int64(1 + rng.Intn(100)),
			TsUnixMillis: time.Now().UnixMilli(),
			Source:       wire.LiveSource,
		}
		if err := send(outboundEnvelope{
			Version:    wire.SchemaVersion,
			Type:       wire.KindMarketData,
			TerminalID: *terminalID,
			Data:       tick,
		}); err != nil {
			logger.Error("failed to send tick", zap.Error(err))
			break
		}
		sent++

		if time.Since(lastHeartbeat) >= time.Duration(*heartbeatSec)*time.Second {
			if err := send(outboundEnvelope{
				Version:    wire.SchemaVersion,
				Type:       wire.KindHeartbeat,
				TerminalID: *terminalID,
			}); err != nil {
				logger.Error("failed to send heartbeat", zap.Error(err))
				break
			}
			lastHeartbeat = time.Now()
		}

		time.Sleep(time.Duration(*intervalMs) * time.Millisecond)
	}

	fmt.Printf("\n=== Simulator Summary ===\n")
	fmt.Printf("Ticks sent: %d\n", sent)
	fmt.Printf("Commands received: %d\n", atomic.LoadInt64(&commandCount))
}
