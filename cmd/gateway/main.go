package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fxlabs-dev/signalgate/internal/api"
	"github.com/fxlabs-dev/signalgate/internal/authz"
	"github.com/fxlabs-dev/signalgate/internal/config"
	"github.com/fxlabs-dev/signalgate/internal/dispatch"
	"github.com/fxlabs-dev/signalgate/internal/feed"
	"github.com/fxlabs-dev/signalgate/internal/fire"
	"github.com/fxlabs-dev/signalgate/internal/logging"
	"github.com/fxlabs-dev/signalgate/internal/mission"
	"github.com/fxlabs-dev/signalgate/internal/msg"
	"github.com/fxlabs-dev/signalgate/internal/observability"
	"github.com/fxlabs-dev/signalgate/internal/pubsub"
	"github.com/fxlabs-dev/signalgate/internal/risk"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

func main() {
	cfg := config.LoadConfig("gateway")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.String("feed_addr", cfg.FeedAddr),
		zap.Int("api_port", cfg.APIPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
		zap.String("data_dir", cfg.DataDir),
		zap.Strings("symbols", cfg.Symbols),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	// Stores.
	missions, err := mission.Open(filepath.Join(cfg.DataDir, "missions.db"))
	if err != nil {
		logger.Fatal("failed to open mission store", zap.Error(err))
	}
	defer missions.Close()

	fires, err := fire.Open(filepath.Join(cfg.DataDir, "fires.db"))
	if err != nil {
		logger.Fatal("failed to open fire store", zap.Error(err))
	}
	defer fires.Close()

	// Kafka.
	producer, err := msg.NewProducer(cfg.Brokers(), cfg.ServiceName, logger)
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	missionConsumer, err := msg.NewConsumer(cfg.Brokers(), "gateway-missions-v1",
		[]string{msg.TopicMissionsProposed}, logger)
	if err != nil {
		logger.Fatal("failed to create mission consumer", zap.Error(err))
	}
	defer missionConsumer.Close()

	healthChecker := observability.NewHealthChecker(logger)

	// Ingress pipeline.
	broker := pubsub.NewBroker(logger)
	bridge := pubsub.NewKafkaBridge(broker, producer, logger)
	sessions := feed.NewSessionTable(logger)

	resultSink := feed.TradeResultFunc(func(ctx context.Context, terminalID string, result wire.TradeResult) {
		producer.TryProduceJSON(ctx, msg.TopicTradeResults, result.FireID, msg.TradeResultMsg{
			FireID:       result.FireID,
			TerminalID:   terminalID,
			Ticket:       result.Ticket,
			Status:       result.Status,
			Price:        result.Price,
			ErrorMsg:     result.ErrorMsg,
			TsUnixMillis: time.Now().UnixMilli(),
		})
	})

	router := feed.NewRouter(cfg.Symbols, sessions, broker, resultSink, logger)
	registry := feed.NewRegistry()
	feedServer := feed.NewServer(cfg.FeedAddr, router, registry, logger)

	// Fire authority.
	signer := authz.NewSigner([]byte(cfg.CapabilitySecret))
	book := risk.NewBook(cfg.Symbols)
	profiles := risk.NewMemoryProfiles()
	dispatcher := dispatch.NewDispatcher(router, registry, logger)
	authority := fire.NewAuthority(signer, fires, missions, profiles, book, dispatcher, logger)
	outbox := fire.NewPublisher(fires, producer, logger)

	apiServer := api.NewServer(cfg.APIAddr(), authority, signer, missions, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gRPC health server.
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Feed listener.
	if err := feedServer.Listen(); err != nil {
		logger.Fatal("failed to bind feed listener", zap.Error(err))
	}
	healthChecker.SetFeedReady(true)
	healthChecker.SetKafkaReady(true)

	feedErrCh := make(chan error, 1)
	go func() {
		logger.Info("feed listener accepting terminals", zap.String("addr", cfg.FeedAddr))
		if err := feedServer.Serve(ctx); err != nil && ctx.Err() == nil {
			feedErrCh <- err
		}
	}()

	go router.Run(ctx)
	go bridge.Run(ctx)
	go outbox.Run(ctx)
	go sessions.RunSweep(ctx, cfg.SweepInterval, cfg.SessionTTL)
	go mission.RunExpirySweep(ctx, missions, cfg.SweepInterval, logger)

	intake := mission.NewIntake(missions, logger)
	consumerErrCh := make(chan error, 1)
	go func() {
		if err := missionConsumer.Run(ctx, intake.Handle); err != nil && ctx.Err() == nil {
			consumerErrCh <- err
		}
	}()

	apiErrCh := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			apiErrCh <- err
		}
	}()

	logger.Info("gateway started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server failed", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP health server failed", zap.Error(err))
	case err := <-feedErrCh:
		logger.Error("feed listener failed", zap.Error(err))
	case err := <-consumerErrCh:
		logger.Error("mission consumer failed", zap.Error(err))
	case err := <-apiErrCh:
		logger.Error("api server failed", zap.Error(err))
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	if err := feedServer.Close(); err != nil {
		logger.Error("feed listener close failed", zap.Error(err))
	}
	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("health checker shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	stats := router.Stats()
	logger.Info("gateway stopped",
		zap.Int64("ticks_accepted", stats.Accepted),
		zap.Int64("unknown_symbol", stats.UnknownSymbol),
		zap.Int64("non_live_source", stats.NonLiveSource),
		zap.Int64("inbox_dropped", stats.InboxDropped),
		zap.Int64("fanout_dropped", broker.Dropped()),
	)
}
