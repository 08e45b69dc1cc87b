package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/packlane/pointsync/config"
	"github.com/packlane/pointsync/internal/api/syncapi"
	"github.com/packlane/pointsync/internal/broker/kafka"
	"github.com/packlane/pointsync/internal/cache/rediscache"
	"github.com/packlane/pointsync/internal/services/availability"
	"github.com/packlane/pointsync/internal/services/connection"
	"github.com/packlane/pointsync/internal/services/intake"
	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/packlane/pointsync/internal/storage/pgcarrier"
	"github.com/packlane/pointsync/internal/storage/pgconfig"
)

// OwnerTag default matches what historical installs wrote into carrier rows.
const defaultOwnerTag = "pointsync"

type pointsyncApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   pointsyncOpts

	engine   *reconciler.Engine
	intake   *intake.Service
	server   *syncapi.Server
	consumer *kafka.Consumer

	closers []func()
}

func mustBootstrap() *pointsyncApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.Sync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Sync.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "pointsync"
	}
	topic := cfg.Kafka.CarrierChangedTopicName
	if topic == "" {
		topic = "carrier.changed"
	}
	reconciledTopic := cfg.Kafka.ReconciledTopicName
	if reconciledTopic == "" {
		reconciledTopic = "pointsync.reconciled"
	}
	ownerTag := cfg.Sync.OwnerTag
	if ownerTag == "" {
		ownerTag = defaultOwnerTag
	}
	availTTL := time.Duration(cfg.Sync.AvailabilityTTLSeconds) * time.Second
	if availTTL <= 0 {
		availTTL = 5 * time.Minute
	}
	rateLimit := int64(cfg.Sync.CallbackRateLimitPerMinute)
	if rateLimit <= 0 {
		rateLimit = 120
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)

	cfgStore := mustOpenWithRetry(connString, 60*time.Second, pgconfig.New)
	carrierStore := mustOpenWithRetry(connString, 60*time.Second, pgcarrier.New)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	engine := reconciler.New(cfgStore, carrierStore, ownerTag, cfg.Sync.TrackingURL)
	connSvc := connection.New(cfgStore, cfgStore, engine)
	availSvc := availability.New(cfgStore, carrierStore, connSvc, ownerTag, rc, availTTL)
	intakeSvc := intake.New(cfgStore, engine, availSvc).
		WithPublisher(producer, reconciledTopic)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &pointsyncApp{
		ctx:    ctx,
		cancel: cancel,
		opts: pointsyncOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
			rateLimit:     rateLimit,
		},
		engine:   engine,
		intake:   intakeSvc,
		server:   syncapi.New(intakeSvc, connSvc, availSvc).WithRateLimit(rl, rateLimit),
		consumer: consumer,
		closers:  []func(){cfgStore.Close, carrierStore.Close},
	}
}

// mustOpenWithRetry keeps dialing postgres until it is ready; in compose
// setups the database routinely comes up after this process.
func mustOpenWithRetry[T any](connString string, wait time.Duration, open func(string) (T, error)) T {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := open(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *pointsyncApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *pointsyncApp) Run() error {
	return runPointsync(a.ctx, a.opts, a.server, a.engine, a.intake, a.consumer)
}
