package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasvisa/booking-platform/internal/clients"
	"github.com/atlasvisa/booking-platform/pkg/logging"
)

var velocityTracer = otel.Tracer("atlasvisa.internal.payments.velocity")

// VelocityChecker rate-limits booking and checkout attempts per client email
// to keep one caller from holding the whole calendar hostage.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check limits.
type VelocityConfig struct {
	// Max booking attempts per email per window
	MaxBookingsPerEmail int
	BookingWindow       time.Duration

	// Max checkout session creations per email per window
	MaxCheckoutsPerEmail int
	CheckoutWindow       time.Duration

	EnableBookingCheck  bool
	EnableCheckoutCheck bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxBookingsPerEmail:  5,
		BookingWindow:        time.Hour,
		MaxCheckoutsPerEmail: 10,
		CheckoutWindow:       time.Hour,
		EnableBookingCheck:   true,
		EnableCheckoutCheck:  true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CheckType    string
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a velocity checker. A nil Redis client disables
// all checks.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger.Component("velocity"),
		config: config,
	}
}

// CheckBookingVelocity checks whether another booking attempt is allowed for
// the given email. Redis outages fail open: abuse control must never take
// down booking.
func (v *VelocityChecker) CheckBookingVelocity(ctx context.Context, email string) (*VelocityResult, error) {
	ctx, span := velocityTracer.Start(ctx, "velocity.check_booking")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "booking"))

	if !v.config.EnableBookingCheck || v.redis == nil {
		return &VelocityResult{Allowed: true, CheckType: "booking"}, nil
	}

	key := fmt.Sprintf("velocity:booking:%s", clients.NormalizeEmail(email))

	count, expiry, err := v.incrementAndGet(ctx, key, v.config.BookingWindow)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - allow the booking if Redis is down
		return &VelocityResult{Allowed: true, CheckType: "booking", Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxBookingsPerEmail,
		CheckType:    "booking",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxBookingsPerEmail,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d booking attempts in %s", v.config.MaxBookingsPerEmail, v.config.BookingWindow)
		v.logger.Warn("booking velocity exceeded",
			"email", email,
			"count", count,
			"max", v.config.MaxBookingsPerEmail,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// CheckCheckoutVelocity checks whether another checkout session may be
// created for the given email.
func (v *VelocityChecker) CheckCheckoutVelocity(ctx context.Context, email string) (*VelocityResult, error) {
	ctx, span := velocityTracer.Start(ctx, "velocity.check_checkout")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "checkout"))

	if !v.config.EnableCheckoutCheck || v.redis == nil {
		return &VelocityResult{Allowed: true, CheckType: "checkout"}, nil
	}

	key := fmt.Sprintf("velocity:checkout:%s", clients.NormalizeEmail(email))

	count, expiry, err := v.incrementAndGet(ctx, key, v.config.CheckoutWindow)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, CheckType: "checkout", Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxCheckoutsPerEmail,
		CheckType:    "checkout",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCheckoutsPerEmail,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d checkout attempts in %s", v.config.MaxCheckoutsPerEmail, v.config.CheckoutWindow)
		v.logger.Warn("checkout velocity exceeded",
			"email", email,
			"count", count,
			"max", v.config.MaxCheckoutsPerEmail,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// incrementAndGet increments a counter and returns the new value with expiry time.
func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// Set expiry only on first increment
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}

	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}

	expiry := time.Now().Add(ttl)
	return int(count), expiry, nil
}

// ResetBookingVelocity clears the booking counter for an email (staff use).
func (v *VelocityChecker) ResetBookingVelocity(ctx context.Context, email string) error {
	if v.redis == nil {
		return nil
	}
	key := fmt.Sprintf("velocity:booking:%s", clients.NormalizeEmail(email))
	return v.redis.Del(ctx, key).Err()
}

// BookingStats returns the current booking velocity for an email without
// incrementing it.
func (v *VelocityChecker) BookingStats(ctx context.Context, email string) (*VelocityResult, error) {
	if v.redis == nil {
		return &VelocityResult{Allowed: true, CheckType: "booking"}, nil
	}
	key := fmt.Sprintf("velocity:booking:%s", clients.NormalizeEmail(email))

	count, err := v.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return &VelocityResult{
			Allowed:      true,
			CheckType:    "booking",
			CurrentCount: 0,
			MaxAllowed:   v.config.MaxBookingsPerEmail,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, _ := v.redis.TTL(ctx, key).Result()

	return &VelocityResult{
		Allowed:      count < v.config.MaxBookingsPerEmail,
		CheckType:    "booking",
		CurrentCount: count,
		MaxAllowed:   v.config.MaxBookingsPerEmail,
		WindowExpiry: time.Now().Add(ttl),
	}, nil
}
