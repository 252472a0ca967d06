package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/sutto4/ccc-sub004/app/controllers"
	"github.com/sutto4/ccc-sub004/internal/pkg/middleware"
	"github.com/sutto4/ccc-sub004/internal/pkg/ratelimit"
)

const (
	apiRequestsPerMinute = 600
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        apiRequestsPerMinute,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests", "message": "Too many requests"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Webhooks authenticate with their HMAC signature, so they are
	// registered ahead of the API token middleware.
	billingController := controllers.NewBillingController(h.deps.Billing, h.deps.WebhookSecret, h.deps.Statistics)
	v1.Post("/billing/webhooks/:provider", billingController.HandleWebhook)

	v1.Use(middleware.APIKeyAuthMiddleware(h.deps.APITokens))

	perGuild := h.mutationLimit(ratelimit.RouteIPParamKey("guildID"))
	perRoute := h.mutationLimit(ratelimit.RouteIPKey)

	allocationController := controllers.NewAllocationController(h.deps.Allocations, h.deps.Statistics)
	v1.Post("/subscriptions/:subscriptionID/guilds/:guildID", perGuild, allocationController.HandleAllocate)
	v1.Delete("/subscriptions/:subscriptionID/guilds/:guildID", perGuild, allocationController.HandleDeallocate)
	v1.Get("/subscriptions/:subscriptionID/usage", allocationController.HandleUsage)
	v1.Post("/subscriptions/:subscriptionID/reconcile", perRoute, allocationController.HandleReconcile)
	v1.Put("/groups/:groupID/primary", perRoute, allocationController.HandleSetPrimary)

	featureController := controllers.NewFeatureController(h.deps.Resolver, h.deps.Catalog, h.deps.Queue)
	v1.Get("/features", featureController.HandleListFeatures)
	v1.Put("/features/:featureKey", perRoute, featureController.HandleUpsertFeature)
	v1.Post("/features/bulk-toggle", perRoute, featureController.HandleBulkToggle)
	v1.Get("/guilds/:guildID/features", featureController.HandleResolveFeatures)
	v1.Put("/guilds/:guildID/features", perGuild, featureController.HandleGuildToggle)
	v1.Get("/jobs/:jobID", featureController.HandleGetJob)

	quotaController := controllers.NewQuotaController(h.deps.Ledger)
	v1.Post("/quota/usage", quotaController.HandleTrackUsage)
	v1.Get("/quota/status", quotaController.HandleStatus)
	v1.Get("/quota/violations", quotaController.HandleViolations)
	v1.Get("/quota/:service/status", quotaController.HandleStatus)
	v1.Get("/quota/:service/stats", quotaController.HandleStats)
	v1.Get("/quota/:service/violations", quotaController.HandleViolations)

	botController := controllers.NewBotStatusController(h.deps.Board, h.deps.Statistics)
	v1.Post("/bot/heartbeat", botController.HandleHeartbeat)
	v1.Post("/bot/logs", botController.HandleAppendLog)
	v1.Get("/bot/status", botController.HandleStatus)
	v1.Get("/stats", botController.HandleStatistics)
}

// mutationLimit returns the per-key limiter middleware, or a pass-through
// when no limiter is configured.
func (h ApiRouter) mutationLimit(key ratelimit.KeyFunc) fiber.Handler {
	if h.deps.Limiter == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return ratelimit.Middleware(h.deps.Limiter, key)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
