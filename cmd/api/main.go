package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/lifecycle"
	"github.com/ariefcatur/go-pos-orders/internal/logx"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/settings"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("service", cfg.ServiceName))
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Settings: env defaults, persisted overrides on top
	defaults := settings.Defaults(cfg.DefaultTaxRate, cfg.DefaultServiceRate, cfg.BaseCurrency)
	prov := settings.NewProvider(&settings.PGStore{DB: db}, defaults, log.Named("settings"))
	if err := prov.Reload(ctx); err != nil {
		log.Warn("settings reload failed, using defaults", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.Cache{RDB: rdb}

	// Kafka producers, one per topic
	created := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log.Named("producer"))
	created.Start()
	completed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCompleted, 1024, log.Named("producer"))
	completed.Start()

	repo := &orders.Repo{DB: db, BaseCurrency: cfg.BaseCurrency}
	ledger := &orders.StockLedger{DB: db}

	router := httpx.NewRouter(log.Named("http"), map[string]httpx.HealthCheck{
		"postgres": db.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	(&httpx.OrdersHandler{
		Store:     repo,
		Cache:     cache,
		Created:   created,
		Completed: completed,
		Settings:  prov,
		Channel:   &lifecycle.RedisChannel{RDB: rdb, Log: log.Named("channel")},
		Service:   cfg.ServiceName,
		Log:       log.Named("orders"),
	}).Register(router)
	(&httpx.CatalogHandler{Store: repo, Log: log.Named("catalog")}).Register(router)
	(&httpx.StockHandler{Ledger: ledger, Log: log.Named("stock")}).Register(router)
	(&httpx.SettingsHandler{Settings: prov, Log: log.Named("settings")}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// close inbox -> flush & close writer
	created.Close()
	completed.Close()
	created.WaitClosed()
	completed.WaitClosed()
	cancel()
}
