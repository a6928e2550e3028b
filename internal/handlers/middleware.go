package handlers

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/brandlens/backend/internal/auth"
	"github.com/brandlens/backend/internal/middleware"
	"github.com/brandlens/backend/internal/types"
)

const (
	userRefKey = middleware.UserRefKey

	// serviceUser is recorded for API-key callers that name no user.
	serviceUser = "service"
)

// AuthMiddleware accepts either the shared X-API-Key or a dashboard bearer
// JWT, and records the initiating user reference for handlers.
type AuthMiddleware struct {
	apiKey string
	jwt    *auth.JWTService
}

// NewAuthMiddleware creates a new auth middleware. Either credential may
// be left unconfigured.
func NewAuthMiddleware(apiKey string, jwt *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{apiKey: apiKey, jwt: jwt}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey := c.Get("X-API-Key"); apiKey != "" {
			if m.apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.apiKey)) != 1 {
				return unauthorized(c, "Invalid API key")
			}
			ref := c.Get("X-User-Ref")
			if ref == "" {
				ref = serviceUser
			}
			c.Locals(userRefKey, ref)
			return c.Next()
		}

		token := bearerToken(c)
		if token == "" {
			return unauthorized(c, "Missing API key or bearer token")
		}
		if m.jwt == nil {
			return unauthorized(c, "Bearer tokens are not accepted")
		}

		claims, err := m.jwt.ValidateAccessToken(token)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Path()).Msg("Rejected bearer token")
			return unauthorized(c, "Invalid token")
		}

		c.Locals(userRefKey, claims.UserID)
		return c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to ?token= for
// EventSource clients, which cannot set headers.
func bearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(types.NewError(message, types.CodeUnauthorized))
}

// userRef returns the authenticated user reference, if any.
func userRef(c *fiber.Ctx) *string {
	if ref, ok := c.Locals(userRefKey).(string); ok && ref != "" {
		return &ref
	}
	return nil
}

func caller(c *fiber.Ctx) string {
	if ref := userRef(c); ref != nil {
		return *ref
	}
	return ""
}
