package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Booking rules
	HoldMinutes           int
	BusinessOpenHour      int
	BusinessCloseHour     int
	BookingWindowDays     int
	ConsultationFeeCents  int
	DepositAmountCents    int
	VelocityMaxPerWindow  int
	VelocityWindow        time.Duration
	ReminderLeadTime      time.Duration
	ReminderSweepInterval time.Duration

	// Payment provider (Stripe-compatible checkout API)
	PaymentProviderKey    string
	PaymentWebhookSecret  string
	PaymentBaseURL        string
	PaymentSuccessURL     string
	PaymentCancelURL      string
	AllowFakePayments     bool

	StaffJWTSecret string

	// HTTP surface
	CORSAllowedOrigins []string
	BookingRatePerSec  float64
	BookingRateBurst   int

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// DynamoDB tables
	ConsultationsTable string
	SlotClaimsTable    string
	PaymentsTable      string
	ClientsTable       string
	ApplicationsTable  string

	// Messaging and storage
	NotificationQueueURL string
	UseMemoryQueue       bool
	WorkerCount          int
	InvoiceBucket        string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	EmailSandbox      bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		HoldMinutes:           getEnvAsInt("HOLD_MINUTES", 30),
		BusinessOpenHour:      getEnvAsInt("BUSINESS_OPEN_HOUR", 8),
		BusinessCloseHour:     getEnvAsInt("BUSINESS_CLOSE_HOUR", 18),
		BookingWindowDays:     getEnvAsInt("BOOKING_WINDOW_DAYS", 60),
		ConsultationFeeCents:  getEnvAsInt("CONSULTATION_FEE_CENTS", 15000),
		DepositAmountCents:    getEnvAsInt("DEPOSIT_AMOUNT_CENTS", 50000),
		VelocityMaxPerWindow:  getEnvAsInt("VELOCITY_MAX_PER_WINDOW", 5),
		VelocityWindow:        getEnvAsDuration("VELOCITY_WINDOW", time.Hour),
		ReminderLeadTime:      getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		ReminderSweepInterval: getEnvAsDuration("REMINDER_SWEEP_INTERVAL", 10*time.Minute),

		PaymentProviderKey:   getEnv("PAYMENT_PROVIDER_KEY", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		PaymentBaseURL:       getEnv("PAYMENT_BASE_URL", "https://api.stripe.com"),
		PaymentSuccessURL:    getEnv("PAYMENT_SUCCESS_URL", ""),
		PaymentCancelURL:     getEnv("PAYMENT_CANCEL_URL", ""),
		AllowFakePayments:    getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),

		StaffJWTSecret: getEnv("STAFF_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		BookingRatePerSec:  getEnvAsFloat("BOOKING_RATE_PER_SEC", 1),
		BookingRateBurst:   getEnvAsInt("BOOKING_RATE_BURST", 5),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ConsultationsTable: getEnv("CONSULTATIONS_TABLE", "consultations"),
		SlotClaimsTable:    getEnv("SLOT_CLAIMS_TABLE", "slot_claims"),
		PaymentsTable:      getEnv("PAYMENTS_TABLE", "payments"),
		ClientsTable:       getEnv("CLIENTS_TABLE", "clients"),
		ApplicationsTable:  getEnv("APPLICATIONS_TABLE", "applications"),

		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 2),
		InvoiceBucket:        getEnv("INVOICE_BUCKET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Atlas Visa Advisers"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		EmailSandbox:      getEnvAsBool("EMAIL_SANDBOX", false),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList retrieves a comma-separated environment variable as a slice
func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
