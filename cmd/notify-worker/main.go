package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/atlasvisa/booking-platform/cmd/mainconfig"
	"github.com/atlasvisa/booking-platform/internal/app/bootstrap"
	"github.com/atlasvisa/booking-platform/internal/clients"
	appconfig "github.com/atlasvisa/booking-platform/internal/config"
	"github.com/atlasvisa/booking-platform/internal/consultations"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/notify"
	notificationsworker "github.com/atlasvisa/booking-platform/internal/worker/notifications"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("notify worker cannot consume the in-memory queue; the API process runs it inline")
		os.Exit(1)
	}
	if cfg.NotificationQueueURL == "" {
		logger.Error("notify worker requires NOTIFICATION_QUEUE_URL")
		os.Exit(1)
	}

	awsConfig, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsConfig)
	queue := events.NewSQSQueue(sqsClient, cfg.NotificationQueueURL)
	dynamoClient := dynamodb.NewFromConfig(awsConfig)
	consultationStore := consultations.NewStore(dynamoClient, cfg.ConsultationsTable, logger)
	clientStore := clients.NewStore(dynamoClient, cfg.ClientsTable, logger)

	notifier := notify.NewService(bootstrap.BuildEmailSender(cfg, awsConfig, logger), cfg.SendGridFromName, logger)

	worker := notificationsworker.NewWorker(queue, notifier, logger).
		WithWorkerCount(cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)

	sweeper := notificationsworker.NewReminderSweeper(consultationStore, clientStore, notifier, logger).
		WithInterval(cfg.ReminderSweepInterval).
		WithLeadTime(cfg.ReminderLeadTime)
	go sweeper.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down notify worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("notify worker stopped")
	case <-doneCtx.Done():
		logger.Error("notify worker shutdown timed out", "error", doneCtx.Err())
	}
}
