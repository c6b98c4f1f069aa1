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

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlasvisa/booking-platform/cmd/mainconfig"
	"github.com/atlasvisa/booking-platform/internal/api/router"
	"github.com/atlasvisa/booking-platform/internal/app/bootstrap"
	"github.com/atlasvisa/booking-platform/internal/applications"
	"github.com/atlasvisa/booking-platform/internal/clients"
	appconfig "github.com/atlasvisa/booking-platform/internal/config"
	"github.com/atlasvisa/booking-platform/internal/consultations"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/invoices"
	"github.com/atlasvisa/booking-platform/internal/notify"
	"github.com/atlasvisa/booking-platform/internal/observability/metrics"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/internal/scheduling"
	notificationsworker "github.com/atlasvisa/booking-platform/internal/worker/notifications"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking platform API",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      runtime.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	waitForInlineWorker(runtime.inlineWorker, logger)

	logger.Info("server stopped")
}

// apiRuntime holds what main needs after wiring: the router and, in
// memory-queue mode, the inline notification worker to drain on shutdown.
type apiRuntime struct {
	router       http.Handler
	inlineWorker *notificationsworker.Worker
}

func buildRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*apiRuntime, error) {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	bookingCfg := bootstrap.BookingConfig(cfg)

	consultationStore := consultations.NewStore(dynamoClient, cfg.ConsultationsTable, logger)
	slotLedger := scheduling.NewLedger(dynamoClient, cfg.SlotClaimsTable, bookingCfg.Grid, logger)
	paymentStore := payments.NewStore(dynamoClient, cfg.PaymentsTable, logger)
	clientStore := clients.NewStore(dynamoClient, cfg.ClientsTable, logger)
	applicationStore := applications.NewStore(dynamoClient, cfg.ApplicationsTable, logger)
	invoiceStore := invoices.NewStore(s3Client, cfg.InvoiceBucket, cfg.AWSRegion, logger)
	if !invoiceStore.Enabled() {
		logger.Warn("INVOICE_BUCKET not set; completed payments get no invoice")
	}

	queue := bootstrap.BuildNotificationQueue(cfg, sqsClient, logger)
	publisher := events.NewPublisher(queue, logger)

	metricsHandler, bookingMetrics := setupBookingMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Warn("redis unavailable; booking velocity checks are disabled")
	}
	velocity := bootstrap.BuildVelocityChecker(redisClient, cfg, logger)

	if cfg.PaymentProviderKey == "" && !cfg.AllowFakePayments {
		logger.Warn("PAYMENT_PROVIDER_KEY not set; checkout sessions will fail")
	}
	provider := payments.NewProvider(cfg.PaymentProviderKey, cfg.PaymentSuccessURL, cfg.PaymentCancelURL, logger).
		WithBaseURL(cfg.PaymentBaseURL).
		WithDryRun(cfg.AllowFakePayments)

	bookingService := consultations.NewService(consultationStore, slotLedger, clientStore, paymentStore, provider, nil, logger).
		WithConfig(bookingCfg).
		WithVelocity(velocity).
		WithPublisher(publisher).
		WithMetrics(bookingMetrics)

	reconciler := payments.NewReconciler(
		paymentStore,
		bookingService,
		applicationStore,
		clientStore,
		invoiceStore,
		publisher,
		bookingMetrics,
		logger,
	)
	bookingService.WithReconciler(reconciler)

	if cfg.StaffJWTSecret == "" {
		logger.Warn("STAFF_JWT_SECRET not set; staff routes are disabled")
	}

	r := router.New(&router.Config{
		Logger:               logger,
		ConsultationsHandler: consultations.NewHandler(bookingService, logger),
		PaymentsHandler:      payments.NewHandler(paymentStore, provider, reconciler, velocity, bookingMetrics, logger),
		PaymentsWebhook:      payments.NewWebhookHandler(cfg.PaymentWebhookSecret, reconciler, bookingMetrics, logger),
		ApplicationsHandler:  applications.NewHandler(applicationStore, clientStore, paymentStore, logger),
		StaffAuthSecret:      cfg.StaffJWTSecret,
		MetricsHandler:       metricsHandler,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		BookingRatePerSec:    cfg.BookingRatePerSec,
		BookingRateBurst:     cfg.BookingRateBurst,
	})

	runtime := &apiRuntime{router: r}

	// Memory-queue deployments have no separate worker process, so the
	// consumer and the reminder sweep run inline.
	if _, inline := queue.(*events.MemoryQueue); inline {
		notifier := notify.NewService(bootstrap.BuildEmailSender(cfg, awsCfg, logger), cfg.SendGridFromName, logger)
		runtime.inlineWorker = notificationsworker.NewWorker(queue, notifier, logger).
			WithWorkerCount(cfg.WorkerCount)
		runtime.inlineWorker.Start(ctx)

		sweeper := notificationsworker.NewReminderSweeper(consultationStore, clientStore, notifier, logger).
			WithInterval(cfg.ReminderSweepInterval).
			WithLeadTime(cfg.ReminderLeadTime)
		go sweeper.Run(ctx)

		logger.Info("inline notification worker started", "workers", cfg.WorkerCount)
	}

	return runtime, nil
}

// setupBookingMetrics registers the booking metrics on a private registry
// and returns the scrape handler alongside them.
func setupBookingMetrics() (http.Handler, *metrics.BookingMetrics) {
	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, bookingMetrics
}

func waitForInlineWorker(w *notificationsworker.Worker, logger *logging.Logger) {
	if w == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline notification worker stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("inline notification worker shutdown timed out")
	}
}
