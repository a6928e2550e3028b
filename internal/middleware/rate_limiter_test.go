package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	config := RateLimitConfig{
		RequestsPerWindow: 10,
		Window:            time.Minute,
		Identifier:        IdentifierIP,
	}

	limiter := NewRateLimiter(config)
	require.NotNil(t, limiter)
	assert.Equal(t, 10, limiter.config.RequestsPerWindow)
	assert.Equal(t, time.Minute, limiter.config.Window)

	// Cleanup
	limiter.Stop()
}

func TestRateLimiterAllow(t *testing.T) {
	config := RateLimitConfig{
		RequestsPerWindow: 5,
		Window:            100 * time.Millisecond,
		Identifier:        IdentifierIP,
	}
	limiter := NewRateLimiter(config)
	defer limiter.Stop()

	identifier := "192.168.1.1"

	// Test allowing requests within limit
	for i := 0; i < 5; i++ {
		allowed, remaining := limiter.Allow(identifier)
		assert.True(t, allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 5-i-1, remaining)
	}

	// 6th request should be rejected
	allowed, _ := limiter.Allow(identifier)
	assert.False(t, allowed, "6th request should be rejected")

	// Wait for window to reset
	time.Sleep(150 * time.Millisecond)

	// Should allow again after reset
	allowed, remaining := limiter.Allow(identifier)
	assert.True(t, allowed, "request should be allowed after window reset")
	assert.Equal(t, 4, remaining)
}

func TestRateLimiterDifferentIdentifiers(t *testing.T) {
	config := RateLimitConfig{
		RequestsPerWindow: 3,
		Window:            time.Second,
		Identifier:        IdentifierIP,
	}
	limiter := NewRateLimiter(config)
	defer limiter.Stop()

	for _, id := range []string{"192.168.1.1", "192.168.1.2"} {
		for i := 0; i < 3; i++ {
			allowed, _ := limiter.Allow(id)
			assert.True(t, allowed, "request %d for %s should be allowed", i+1, id)
		}
	}

	for _, id := range []string{"192.168.1.1", "192.168.1.2"} {
		allowed, _ := limiter.Allow(id)
		assert.False(t, allowed, "fourth request for %s should be rejected", id)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerWindow: 1,
		Window:            10 * time.Millisecond,
		Identifier:        IdentifierIP,
	})

	limiter.Allow("192.168.1.1")
	assert.Len(t, limiter.visitors, 1)

	// Stop should clean up
	limiter.Stop()
	limiter.Stop()
	assert.Empty(t, limiter.visitors)
}

func TestMiddlewareLimitsPerUser(t *testing.T) {
	limiter := NewRateLimiter(SyncTriggerRateLimit(2))
	defer limiter.Stop()

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(UserRefKey, c.Get("X-User"))
		return c.Next()
	})
	app.Post("/sync", limiter.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/sync", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusAccepted, send("alice"))
	assert.Equal(t, fiber.StatusAccepted, send("alice"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("alice"))
	assert.Equal(t, fiber.StatusAccepted, send("bob"))
}
