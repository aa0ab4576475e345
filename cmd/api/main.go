package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ilive/checkout/internal/cart"
	"github.com/ilive/checkout/internal/checkout"
	"github.com/ilive/checkout/internal/config"
	"github.com/ilive/checkout/internal/httpx"
	kafkax "github.com/ilive/checkout/internal/kafka"
	"github.com/ilive/checkout/internal/logx"
	"github.com/ilive/checkout/internal/payment"
	"github.com/ilive/checkout/internal/postgres"
	"github.com/ilive/checkout/internal/pricing"
	"github.com/ilive/checkout/internal/redisx"
	"github.com/ilive/checkout/internal/reservation"
	"github.com/ilive/checkout/internal/settlement"
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

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 8)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prodCreated := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicOrderCreated, 1024, log)
	prodCreated.Start(ctx)
	prodPaid := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicOrderPaid, 1024, log)
	prodPaid.Start(ctx)
	prodCancelled := kafkax.NewProducer(cfg.KafkaBrokers, checkout.TopicOrderCancelled, 1024, log)
	prodCancelled.Start(ctx)

	ledger := &checkout.PGLedger{DB: db}
	carts := &cart.RedisStore{RDB: rdb}
	prices := &pricing.LedgerResolver{Ledger: ledger}

	reservations := reservation.NewService(ledger, carts, prices, prodCreated,
		cfg.ReservationTTL, cfg.ServiceName, log)
	settlements := settlement.NewService(ledger, payment.NewRegistry(),
		prodPaid, prodCancelled, cfg.ServiceName, log)

	router := httpx.NewRouter(log)
	h := &httpx.Handler{
		Reservations: reservations,
		Settlements:  settlements,
		Cart:         carts,
		Ledger:       ledger,
		Redis:        rdb,
		Log:          log,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shCancel()
	_ = srv.Shutdown(shCtx)

	for _, p := range []*kafkax.Producer{prodCreated, prodPaid, prodCancelled} {
		p.Close() // stop intake, flush buffered messages
	}
	cancel()
	for _, p := range []*kafkax.Producer{prodCreated, prodPaid, prodCancelled} {
		p.WaitClosed()
	}
}
