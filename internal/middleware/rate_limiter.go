package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/brandlens/backend/internal/types"
)

// UserRefKey is the fiber local holding the authenticated user reference.
const UserRefKey = "userRef"

// Identifier kinds
const (
	IdentifierIP   = "ip"
	IdentifierUser = "user"
)

// RateLimitConfig defines rate limit configuration for an endpoint
type RateLimitConfig struct {
	RequestsPerWindow int           // Number of requests allowed
	Window            time.Duration // Time window for rate limiting
	Identifier        string        // IdentifierIP or IdentifierUser
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per caller
type RateLimiter struct {
	config   RateLimitConfig
	visitors map[string]*visitor
	mu       sync.Mutex
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerWindow < 1 {
		config.RequestsPerWindow = 1
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	limiter := &RateLimiter{
		config:   config,
		visitors: make(map[string]*visitor),
		done:     make(chan struct{}),
	}

	// Start cleanup goroutine to remove stale visitors
	limiter.ticker = time.NewTicker(5 * time.Minute)
	go limiter.cleanupStale()

	return limiter
}

// Middleware returns a Fiber middleware handler for rate limiting
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := rl.getIdentifier(c)
		allowed, remaining := rl.Allow(identifier)

		// Add rate limit headers
		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(rl.config.Window).Unix()))

		if !allowed {
			retryAfter := int(rl.config.Window.Seconds())
			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))

			log.Warn().
				Str("identifier", identifier).
				Str("endpoint", c.Path()).
				Str("method", c.Method()).
				Int("limit", rl.config.RequestsPerWindow).
				Msg("Rate limit exceeded")

			return c.Status(http.StatusTooManyRequests).JSON(types.NewError(
				fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %v. Retry after %d seconds.", rl.config.RequestsPerWindow, rl.config.Window, retryAfter),
				types.CodeRateLimited,
			))
		}

		return c.Next()
	}
}

// Allow checks if a request from the given identifier is allowed and
// reports how many requests remain in the bucket.
func (rl *RateLimiter) Allow(identifier string) (bool, int) {
	rl.mu.Lock()
	v, exists := rl.visitors[identifier]
	if !exists {
		v = &visitor{limiter: rl.newLimiter()}
		rl.visitors[identifier] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	if !v.limiter.Allow() {
		return false, 0
	}
	remaining := int(v.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining
}

func (rl *RateLimiter) newLimiter() *rate.Limiter {
	perSecond := float64(rl.config.RequestsPerWindow) / rl.config.Window.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), rl.config.RequestsPerWindow)
}

// getIdentifier returns the identifier for rate limiting (IP or user)
func (rl *RateLimiter) getIdentifier(c *fiber.Ctx) string {
	if rl.config.Identifier == IdentifierUser {
		if userRef, ok := c.Locals(UserRefKey).(string); ok && userRef != "" {
			return "user:" + userRef
		}
	}

	// Default to IP-based rate limiting
	return c.IP()
}

// Stop stops the cleanup goroutine and forgets every caller
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
		rl.mu.Lock()
		rl.visitors = make(map[string]*visitor)
		rl.mu.Unlock()
	})
}

// cleanupStale removes visitors that haven't been seen recently
func (rl *RateLimiter) cleanupStale() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for id, v := range rl.visitors {
				if now.Sub(v.lastSeen) > 30*time.Minute {
					delete(rl.visitors, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// SyncTriggerRateLimit limits how often one user may start sync jobs.
func SyncTriggerRateLimit(perMinute int) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: perMinute,
		Window:            time.Minute,
		Identifier:        IdentifierUser,
	}
}
