package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/logx"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-inventory"
	log := logx.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("service", service))
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	alerts := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockLow, 256, log.Named("producer"))
	alerts.Start()

	svc := &inventory.Service{
		Products:    &orders.Repo{DB: db, BaseCurrency: cfg.BaseCurrency},
		Dedup:       &redisx.Cache{RDB: rdb},
		Alerts:      alerts,
		Threshold:   cfg.LowStockThreshold,
		ServiceName: service,
		Log:         log.Named("inventory"),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, orders.TopicOrderCompleted, cfg.InventoryWorkers, log.Named("consumer"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("inventory consumer started",
			zap.String("group", cfg.InventoryGroup),
			zap.String("topic", orders.TopicOrderCompleted),
			zap.Int("workers", cfg.InventoryWorkers),
			zap.Int("threshold", cfg.LowStockThreshold))
		if err := cons.Start(ctx, svc.HandleOrderCompleted); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
	alerts.Close()
	alerts.WaitClosed()
}
