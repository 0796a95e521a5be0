package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/payments"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrateOnBoot {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		logger.Info("Database migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Business.CartTTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	notifier := broker.NewKafkaNotifier(producer, cfg.Kafka.PublishTimeout)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicNotifications))

	repo := service.NewSQLRepository(db)
	ledger := service.NewInventoryLedger(repo)
	states := service.NewOrderStateMachine(ledger)
	coupons := service.NewCouponService(repo)
	carts := service.NewCartService(redisClient, repo)

	methods, webhooks := paymentMethods(cfg, repo, states, redisClient, logger)

	orderService := service.NewOrderService(repo, redisClient, redisClient, redisClient, notifier, coupons, ledger, states, methods, service.OrderConfig{
		TaxRate:         cfg.Business.TaxRate,
		ShippingFee:     cfg.Business.ShippingFlatFee,
		Currency:        cfg.Business.Currency,
		CheckoutLockTTL: cfg.Business.CheckoutLockTTL,
		IdempotencyTTL:  cfg.Business.IdempotencyTTL,
		BcryptCost:      bcrypt.DefaultCost,
	})
	paymentService := service.NewPaymentService(repo, states, methods, webhooks, notifier)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, db, worker.NewLogMailer())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Orders:    orderService,
		Carts:     carts,
		Payments:  paymentService,
		Inventory: ledger,
		Coupons:   coupons,
		Readiness: map[string]api.ReadinessCheck{
			"postgres": func(ctx context.Context) error {
				return db.GetDB().PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return redisClient.GetClient().Ping(ctx).Err()
			},
		},

		RequestTimeout: cfg.Business.OrderTimeout,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// in-flight notifications finish before the producer closes
	notifier.Wait()

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// paymentMethods registers a strategy for every payment method this deployment accepts.
// Gateways without credentials are left out, so checkouts naming them fail validation.
func paymentMethods(cfg *config.Config, repo service.Repository, states *service.OrderStateMachine, carts service.CartStore, logger *zap.Logger) (*service.PaymentMethods, service.WebhookParser) {
	methods := service.NewPaymentMethods()
	offline := service.NewCashOnDelivery(carts)
	methods.Register(models.PaymentMethodCOD, offline)
	methods.Register(models.PaymentMethodBankTransfer, offline)

	breaker := payments.BreakerSettings{
		MaxFailures: cfg.Payment.BreakerMaxFailures,
		OpenTimeout: cfg.Payment.BreakerOpenTimeout,
		Interval:    cfg.Payment.BreakerInterval,
	}

	if cfg.Payment.RazorpayEnabled() {
		razorpay, err := payments.NewRazorpayGateway(cfg.Payment.RazorpayKeyID, cfg.Payment.RazorpayKeySecret)
		if err != nil {
			logger.Fatal("Failed to configure Razorpay", zap.Error(err))
		}
		methods.Register(models.PaymentMethodRazorpay, service.NewGatewayRouted(
			payments.NewBreakerGateway(razorpay, breaker), razorpay, repo, states, carts, cfg.Payment.Timeout,
		))
		logger.Info("Razorpay payments enabled")
	}

	var webhooks service.WebhookParser
	if cfg.Payment.StripeEnabled() {
		stripe, err := payments.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.StripeWebhookSecret)
		if err != nil {
			logger.Fatal("Failed to configure Stripe", zap.Error(err))
		}
		methods.Register(models.PaymentMethodStripe, service.NewGatewayRouted(
			payments.NewBreakerGateway(stripe, breaker), nil, repo, states, carts, cfg.Payment.Timeout,
		))
		webhooks = stripe
		logger.Info("Stripe payments enabled")
	}

	return methods, webhooks
}
