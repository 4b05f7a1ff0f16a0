package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/httpx"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/sequence"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := cfg.NewLogger(cfg.ServiceName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Mongo (carts)
	mdb, err := cart.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("mongo connect: %v", err)
	}
	defer func() { _ = mdb.Client().Disconnect(context.Background()) }()
	cartRepo := cart.NewMongoRepository(mdb)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		log.Fatalf("cart indexes: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic, 1024, logger)
	prod.Start(ctx)
	notifier := &notify.KafkaNotifier{Publisher: prod, Producer: cfg.ServiceName}

	// Stores & services
	products := &catalog.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	allocator := &sequence.Allocator{DB: db, Logger: logger}
	tracking := &orders.RedisTrackingCache{Client: rdb}

	carts := cart.NewService(cartRepo, cart.NewRedisCache(rdb), products, cfg.CartTTL, logger)
	orderSvc := orders.NewService(orderRepo, notifier, tracking, logger)
	paySvc := payments.NewService(orderRepo,
		payments.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret, logger),
		payments.Options{
			Currency:  cfg.Currency,
			Canceller: orderSvc,
			Deduper:   &redisx.Deduper{Client: rdb, Scope: "stripe"},
			Notifier:  notifier,
			Cache:     tracking,
			Logger:    logger,
		})
	checkoutSvc := checkout.NewService(checkout.Deps{
		Carts:     carts,
		Catalog:   products,
		Inventory: &inventory.Store{DB: db},
		Sequencer: allocator,
		Orders:    orderRepo,
		Payments:  paySvc,
		Locker:    &redisx.Locker{Client: rdb},
		Notifier:  notifier,
		Logger:    logger,
	}, checkout.Config{
		TaxRate:           cfg.TaxRate,
		ShippingFee:       cfg.ShippingFee,
		OrderPrefix:       cfg.OrderPrefix,
		CounterName:       cfg.OrderCounter,
		LowStockThreshold: cfg.LowStockThreshold,
		LockTTL:           cfg.CheckoutLockTTL,
	})

	verifier := &auth.Verifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}
	limiter := &redisx.Limiter{Client: rdb, Limit: cfg.RateLimitPerMinute, Window: time.Minute}

	// Router & handlers
	router := httpx.NewRouter()
	(&httpx.CartHandler{Carts: carts, Products: products, Logger: logger}).Register(router)
	(&httpx.CheckoutHandler{Checkout: checkoutSvc, Limiter: limiter, Logger: logger}).Register(router)
	(&httpx.OrdersHandler{Orders: orderSvc, Logger: logger}).Register(router)
	(&httpx.AdminHandler{
		Orders:      orderSvc,
		Counter:     allocator,
		CounterName: cfg.OrderCounter,
		Verifier:    verifier,
		Logger:      logger,
	}).Register(router)
	(&httpx.PaymentsHandler{Payments: paySvc, Verifier: verifier, Limiter: limiter, Logger: logger}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.Instrument(router, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush buffered notifications
	cancel()
	prod.WaitClosed()
}
