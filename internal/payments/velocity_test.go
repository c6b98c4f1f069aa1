package payments

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVelocityTest(t *testing.T, config VelocityConfig) (*VelocityChecker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewVelocityChecker(client, config, nil), mr
}

func TestVelocity_BookingLimitEnforced(t *testing.T) {
	config := DefaultVelocityConfig()
	config.MaxBookingsPerEmail = 3
	checker, _ := setupVelocityTest(t, config)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result, err := checker.CheckBookingVelocity(ctx, "amira@example.com")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "attempt %d should be allowed", i)
		assert.Equal(t, i, result.CurrentCount)
	}

	result, err := checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Message, "exceeded 3 booking attempts")
}

func TestVelocity_CheckoutLimitEnforced(t *testing.T) {
	config := DefaultVelocityConfig()
	config.MaxCheckoutsPerEmail = 2
	checker, _ := setupVelocityTest(t, config)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := checker.CheckCheckoutVelocity(ctx, "amira@example.com")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := checker.CheckCheckoutVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "checkout", result.CheckType)
}

func TestVelocity_EmailNormalizedForCounting(t *testing.T) {
	config := DefaultVelocityConfig()
	config.MaxBookingsPerEmail = 1
	checker, _ := setupVelocityTest(t, config)
	ctx := context.Background()

	result, err := checker.CheckBookingVelocity(ctx, "Amira@Example.COM")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = checker.CheckBookingVelocity(ctx, "  amira@example.com ")
	require.NoError(t, err)
	assert.False(t, result.Allowed, "case and whitespace variants should share the counter")
}

func TestVelocity_FailsOpenWhenRedisDown(t *testing.T) {
	checker, mr := setupVelocityTest(t, DefaultVelocityConfig())
	mr.Close()

	result, err := checker.CheckBookingVelocity(context.Background(), "amira@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "velocity check unavailable", result.Message)
}

func TestVelocity_DisabledCheckAllows(t *testing.T) {
	config := DefaultVelocityConfig()
	config.EnableBookingCheck = false
	config.MaxBookingsPerEmail = 0
	checker, _ := setupVelocityTest(t, config)

	result, err := checker.CheckBookingVelocity(context.Background(), "amira@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Zero(t, result.CurrentCount)
}

func TestVelocity_NilRedisAllows(t *testing.T) {
	checker := NewVelocityChecker(nil, DefaultVelocityConfig(), nil)

	result, err := checker.CheckBookingVelocity(context.Background(), "amira@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = checker.CheckCheckoutVelocity(context.Background(), "amira@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestVelocity_ResetClearsCounter(t *testing.T) {
	config := DefaultVelocityConfig()
	config.MaxBookingsPerEmail = 1
	checker, _ := setupVelocityTest(t, config)
	ctx := context.Background()

	_, err := checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	result, err := checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	require.NoError(t, checker.ResetBookingVelocity(ctx, "amira@example.com"))

	result, err = checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.CurrentCount)
}

func TestVelocity_WindowExpiryResetsCounter(t *testing.T) {
	config := DefaultVelocityConfig()
	config.MaxBookingsPerEmail = 1
	config.BookingWindow = time.Minute
	checker, mr := setupVelocityTest(t, config)
	ctx := context.Background()

	_, err := checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	result, err := checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	mr.FastForward(2 * time.Minute)

	result, err = checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.CurrentCount)
}

func TestVelocity_BookingStatsDoesNotIncrement(t *testing.T) {
	checker, _ := setupVelocityTest(t, DefaultVelocityConfig())
	ctx := context.Background()

	stats, err := checker.BookingStats(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.True(t, stats.Allowed)
	assert.Zero(t, stats.CurrentCount)

	_, err = checker.CheckBookingVelocity(ctx, "amira@example.com")
	require.NoError(t, err)

	stats, err = checker.BookingStats(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentCount)

	stats, err = checker.BookingStats(ctx, "amira@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentCount, "stats reads must not consume the budget")
}
