package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/metrics"
	"github.com/rl1809/stock-ledger/internal/port"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		zlog.Fatal().Err(err).Msg("stock ledger exited")
	}
	zlog.Info().Msg("stock ledger stopped")
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func run(ctx context.Context, cfg config.Config) error {
	logger := zlog.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo, closeRepo, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeRepo()
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("stock store ready")

	svcOpts := []service.Option{
		service.WithPolicy(cfg.DomainPolicy()),
		service.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Backoff),
		service.WithMetrics(m),
		service.WithLogger(logger),
	}
	sweepOpts := []service.SweeperOption{
		service.WithSweepInterval(cfg.Sweeper.Interval),
		service.WithSweepBatchSize(cfg.Sweeper.BatchSize),
		service.WithSweeperMetrics(m),
		service.WithSweeperLogger(logger),
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")

		redisAdapter := storage.NewRedisAdapter(rdb)
		svcOpts = append(svcOpts, service.WithCache(redisAdapter, cfg.Redis.CacheTTL))
		sweepOpts = append(sweepOpts, service.WithLease(redisAdapter, cfg.Sweeper.LockTTL))
	}

	var publisher port.EventPublisher = messaging.NewLogPublisher(logger)
	if cfg.Kafka.Enabled {
		writer := messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		defer writer.Close()
		publisher = messaging.NewKafkaPublisher(writer)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("publishing stock events to kafka")
	}

	stockService := service.NewStockService(repo, publisher, svcOpts...)
	sweeper := service.NewSweeper(repo, sweepOpts...)

	grpcServer := grpc.NewServer(handler.ServerCodec())
	handler.RegisterStockLedgerServer(grpcServer, handler.NewGRPCHandler(stockService, logger))

	mux := http.NewServeMux()
	handler.NewHTTPHandler(stockService, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.AccessLog(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sweeper.Run(gctx) })

	if cfg.Kafka.Enabled {
		reader := messaging.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.ProductTopic, cfg.Kafka.ConsumerGroup)
		g.Go(func() error {
			defer reader.Close()
			return messaging.NewProductConsumer(reader, stockService, logger).Run(gctx)
		})
	}

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		logger.Info().Str("addr", cfg.GRPC.Addr).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown")
		}
		logger.Info().Msg("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info().Msg("gRPC server stopped")
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StorageConfig) (port.StockRepository, func(), error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryAdapter(), func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	if cfg.Migrate {
		if err := storage.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	return storage.NewMySQLAdapter(db), func() { db.Close() }, nil
}
