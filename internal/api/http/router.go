package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/request-engine/internal/api/http/handlers"
	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Requests       *handlers.RequestsHandler
	Rules          *handlers.RulesHandler
	Analytics      *handlers.AnalyticsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	app.Post("/auth/login", cfg.Auth.Login)

	authn := cfg.AuthMiddleware.Handle
	manager := auth.RequireRuleManager()

	requests := app.Group("/requests", authn)
	requests.Post("/", cfg.Requests.Create)
	requests.Get("/:id", cfg.Requests.Get)
	requests.Post("/:id/accept", cfg.Requests.Accept)
	requests.Post("/:id/complete", cfg.Requests.Complete)
	requests.Post("/:id/cancel", cfg.Requests.Cancel)
	requests.Get("/:id/timeline", cfg.Requests.Timeline)
	requests.Post("/:id/comments", cfg.Requests.AddComment)

	types := app.Group("/request-types", authn)
	types.Get("/:typeId/rules", cfg.Rules.List)
	types.Post("/:typeId/rules", manager, cfg.Rules.Create)
	types.Post("/:typeId/rules/reorder", manager, cfg.Rules.Reorder)

	rules := app.Group("/rules", authn, manager)
	rules.Put("/:id", cfg.Rules.Update)
	rules.Delete("/:id", cfg.Rules.Delete)

	if cfg.Analytics != nil {
		app.Get("/analytics/assignments", authn, manager, cfg.Analytics.Assignments)
	}
}
