package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/checkout"
	"github.com/ilive/checkout/internal/config"
	kafkax "github.com/ilive/checkout/internal/kafka"
	"github.com/ilive/checkout/internal/logx"
	"github.com/ilive/checkout/internal/postgres"
	"github.com/ilive/checkout/internal/projector"
	"github.com/ilive/checkout/internal/reaper"
	"github.com/ilive/checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logx.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prodExpired := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicOrderExpired, 1024, log)
	prodExpired.Start(ctx)

	ledger := &checkout.PGLedger{DB: db}

	rp := reaper.New(ledger, prodExpired, cfg.ReaperInterval, cfg.ReaperBatch,
		cfg.ServiceName+"-reaper", log)
	rp.Start(ctx)
	log.Info("reaper started",
		zap.Duration("interval", cfg.ReaperInterval),
		zap.Int("batch", cfg.ReaperBatch))

	proj := &projector.Projector{RDB: rdb, Service: cfg.ServiceName + "-projector", Log: log}
	topics := []string{
		checkout.TopicOrderCreated,
		checkout.TopicOrderPaid,
		checkout.TopicOrderCancelled,
		checkout.TopicOrderExpired,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topics, cfg.ConsumerWorkers, log)

	go func() {
		log.Info("status projector started",
			zap.String("group", cfg.ConsumerGroup),
			zap.Int("workers", cfg.ConsumerWorkers))
		if err := cons.Start(ctx, proj.Handle); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down worker...")

	rp.Stop()
	prodExpired.Close()
	cancel()
	prodExpired.WaitClosed()
}
