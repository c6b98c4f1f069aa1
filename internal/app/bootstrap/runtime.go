// Package bootstrap wires shared infrastructure for the API and worker
// binaries so both resolve Redis, email, and the notification queue the
// same way.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/atlasvisa/booking-platform/internal/config"
	"github.com/atlasvisa/booking-platform/internal/consultations"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/notify"
	"github.com/atlasvisa/booking-platform/internal/payments"
	"github.com/atlasvisa/booking-platform/internal/scheduling"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildEmailSender picks the configured email backend. "auto" prefers
// SendGrid when credentials are present, then SES, then the logging stub.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}

	sendgridReady := cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != ""
	sesReady := cfg.SESFromEmail != ""

	provider := cfg.EmailProvider
	switch provider {
	case "sendgrid":
		if !sendgridReady {
			logger.Warn("EMAIL_PROVIDER=sendgrid but SENDGRID_API_KEY or SENDGRID_FROM_EMAIL missing; emails are logged only")
			return notify.NewStubEmailSender(logger)
		}
	case "ses":
		if !sesReady {
			logger.Warn("EMAIL_PROVIDER=ses but SES_FROM_EMAIL missing; emails are logged only")
			return notify.NewStubEmailSender(logger)
		}
	case "stub", "none":
		return notify.NewStubEmailSender(logger)
	default:
		switch {
		case sendgridReady:
			provider = "sendgrid"
		case sesReady:
			provider = "ses"
		default:
			logger.Warn("no email provider configured; emails are logged only")
			return notify.NewStubEmailSender(logger)
		}
	}

	if provider == "sendgrid" {
		logger.Info("sendgrid email sender initialized", "from", cfg.SendGridFromEmail)
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
			Sandbox:   cfg.EmailSandbox,
		}, logger)
	}

	logger.Info("ses email sender initialized", "from", cfg.SESFromEmail)
	return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
		FromEmail: cfg.SESFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
}

// BuildNotificationQueue returns the notification transport: SQS when a
// queue URL is configured, an in-memory queue otherwise. In-memory jobs do
// not survive restarts, so the caller must run the inline worker.
func BuildNotificationQueue(cfg *appconfig.Config, sqsClient *sqs.Client, logger *logging.Logger) events.Queue {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.NotificationQueueURL) == "" {
		if !cfg.UseMemoryQueue {
			logger.Warn("NOTIFICATION_QUEUE_URL not set; using in-memory notification queue")
		}
		return events.NewMemoryQueue(0)
	}
	return events.NewSQSQueue(sqsClient, cfg.NotificationQueueURL)
}

// BuildVelocityChecker maps config limits onto the Redis-backed checker. A
// nil Redis client yields a checker that allows everything.
func BuildVelocityChecker(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) *payments.VelocityChecker {
	vc := payments.DefaultVelocityConfig()
	if cfg.VelocityMaxPerWindow > 0 {
		vc.MaxBookingsPerEmail = cfg.VelocityMaxPerWindow
		vc.MaxCheckoutsPerEmail = 2 * cfg.VelocityMaxPerWindow
	}
	if cfg.VelocityWindow > 0 {
		vc.BookingWindow = cfg.VelocityWindow
		vc.CheckoutWindow = cfg.VelocityWindow
	}
	return payments.NewVelocityChecker(redisClient, vc, logger)
}

// BookingConfig maps config onto the booking service parameters.
func BookingConfig(cfg *appconfig.Config) consultations.Config {
	c := consultations.DefaultConfig()
	c.Grid = bookingGrid(cfg)
	if cfg.HoldMinutes > 0 {
		c.HoldMinutes = cfg.HoldMinutes
	}
	if cfg.ConsultationFeeCents > 0 {
		c.FeeCents = int64(cfg.ConsultationFeeCents)
	}
	return c
}

func bookingGrid(cfg *appconfig.Config) scheduling.Grid {
	grid := scheduling.DefaultGrid()
	if cfg.BusinessOpenHour >= 0 && cfg.BusinessCloseHour > cfg.BusinessOpenHour {
		grid.OpenHour = cfg.BusinessOpenHour
		grid.CloseHour = cfg.BusinessCloseHour
	}
	if cfg.BookingWindowDays > 0 {
		grid.WindowDays = cfg.BookingWindowDays
	}
	return grid
}
