package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/atlasvisa/booking-platform/internal/config"
	"github.com/atlasvisa/booking-platform/internal/events"
	"github.com/atlasvisa/booking-platform/internal/notify"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	cfg := &appconfig.Config{RedisAddr: "  "}
	if client := BuildRedisClient(context.Background(), cfg, nil, false); client != nil {
		t.Fatalf("expected nil client for blank addr")
	}
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	cfg := &appconfig.Config{EmailProvider: "auto"}
	sender := BuildEmailSender(cfg, aws.Config{}, nil)
	if _, ok := sender.(*notify.StubEmailSender); !ok {
		t.Fatalf("expected stub sender without credentials, got %T", sender)
	}
}

func TestBuildEmailSenderPrefersSendGrid(t *testing.T) {
	cfg := &appconfig.Config{
		EmailProvider:     "auto",
		SendGridAPIKey:    "sg-key",
		SendGridFromEmail: "bookings@atlasvisa.example",
		SESFromEmail:      "bookings@atlasvisa.example",
	}
	sender := BuildEmailSender(cfg, aws.Config{}, nil)
	if _, ok := sender.(*notify.SendGridSender); !ok {
		t.Fatalf("expected sendgrid sender, got %T", sender)
	}
}

func TestBuildEmailSenderExplicitSES(t *testing.T) {
	cfg := &appconfig.Config{
		EmailProvider: "ses",
		SESFromEmail:  "bookings@atlasvisa.example",
	}
	sender := BuildEmailSender(cfg, aws.Config{Region: "eu-west-1"}, nil)
	if _, ok := sender.(*notify.SESSender); !ok {
		t.Fatalf("expected ses sender, got %T", sender)
	}
}

func TestBuildEmailSenderMisconfiguredProviderIsStub(t *testing.T) {
	cfg := &appconfig.Config{EmailProvider: "sendgrid"}
	sender := BuildEmailSender(cfg, aws.Config{}, nil)
	if _, ok := sender.(*notify.StubEmailSender); !ok {
		t.Fatalf("expected stub for misconfigured sendgrid, got %T", sender)
	}
}

func TestBuildNotificationQueueMemoryFallback(t *testing.T) {
	cfg := &appconfig.Config{UseMemoryQueue: true}
	queue := BuildNotificationQueue(cfg, nil, nil)
	if _, ok := queue.(*events.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}

	cfg = &appconfig.Config{NotificationQueueURL: "   "}
	queue = BuildNotificationQueue(cfg, nil, nil)
	if _, ok := queue.(*events.MemoryQueue); !ok {
		t.Fatalf("expected memory queue for blank URL, got %T", queue)
	}
}

func TestBuildVelocityCheckerAllowsWithoutRedis(t *testing.T) {
	cfg := &appconfig.Config{VelocityMaxPerWindow: 3, VelocityWindow: 30 * time.Minute}
	checker := BuildVelocityChecker(nil, cfg, nil)
	if checker == nil {
		t.Fatalf("expected checker")
	}
	result, err := checker.CheckBookingVelocity(context.Background(), "amira@example.com")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allow with nil redis")
	}
}

func TestBookingConfigOverrides(t *testing.T) {
	cfg := &appconfig.Config{
		HoldMinutes:          15,
		ConsultationFeeCents: 20000,
		BusinessOpenHour:     9,
		BusinessCloseHour:    17,
		BookingWindowDays:    30,
	}
	c := BookingConfig(cfg)
	if c.HoldMinutes != 15 {
		t.Errorf("expected hold minutes 15, got %d", c.HoldMinutes)
	}
	if c.FeeCents != 20000 {
		t.Errorf("expected fee 20000, got %d", c.FeeCents)
	}
	if c.Grid.OpenHour != 9 || c.Grid.CloseHour != 17 || c.Grid.WindowDays != 30 {
		t.Errorf("unexpected grid %+v", c.Grid)
	}
	if c.Currency != "eur" {
		t.Errorf("expected default currency, got %s", c.Currency)
	}
}

func TestBookingConfigKeepsDefaultsForZeroValues(t *testing.T) {
	c := BookingConfig(&appconfig.Config{})
	if c.HoldMinutes != 30 || c.FeeCents != 15000 {
		t.Fatalf("expected defaults, got %+v", c)
	}
	if c.Grid.OpenHour != 8 || c.Grid.CloseHour != 18 {
		t.Fatalf("expected default grid, got %+v", c.Grid)
	}
}
