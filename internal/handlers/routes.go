package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brandlens/backend/internal/jobs"
	"github.com/brandlens/backend/internal/middleware"
	"github.com/brandlens/backend/internal/workers"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouteDeps are the collaborators the API is built from. Database and
// TriggerLimiter may be nil.
type RouteDeps struct {
	Ledger         *jobs.Ledger
	Runner         *jobs.Runner
	Orchestrator   *workers.Orchestrator
	Updates        Subscriber
	KPIs           KPIReader
	KPIWindowDays  int
	Auth           *AuthMiddleware
	TriggerLimiter *middleware.RateLimiter
	Database       HealthChecker
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, deps RouteDeps) {
	// Public routes (no authentication required)
	app.Get("/health", healthCheck(deps.Database))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Protected routes (require API key or bearer token)
	protected := app.Group("/api/v1", deps.Auth.Handler())

	// Sync routes
	syncHandler := NewSyncAPIHandler(deps.Ledger, deps.Runner, deps.Orchestrator)
	streamHandler := NewSyncStreamHandler(deps.Ledger, deps.Updates)
	protected.Get("/sync/jobs", syncHandler.ListJobs)
	protected.Get("/sync/jobs/:id", syncHandler.GetJob)
	protected.Get("/sync/jobs/:id/stream", streamHandler.StreamJobProgress)
	protected.Post("/sync/jobs/:id/cancel", syncHandler.CancelJob)

	trigger := []fiber.Handler{syncHandler.TriggerSync}
	if deps.TriggerLimiter != nil {
		trigger = append([]fiber.Handler{deps.TriggerLimiter.Middleware()}, trigger...)
	}
	protected.Post("/sync/:type", trigger...)

	// KPI routes
	kpiHandler := NewKPIHandler(deps.KPIs, deps.KPIWindowDays)
	protected.Get("/kpis", kpiHandler.GetKPIs)
	protected.Get("/kpis/dimensions/:dimension", kpiHandler.GetTopDimensions)
}

// healthCheck returns a health check handler
func healthCheck(db HealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := fiber.Map{
			"status":  "healthy",
			"service": "brandlens-backend",
		}
		if db == nil {
			status["database"] = "not configured"
			return c.JSON(status)
		}

		// Check database connection
		if err := db.HealthCheck(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "unhealthy",
				"database": "disconnected",
				"error":    err.Error(),
			})
		}

		status["database"] = "connected"
		return c.JSON(status)
	}
}
