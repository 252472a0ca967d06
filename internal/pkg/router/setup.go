package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sutto4/ccc-sub004/internal/pkg/allocation"
	"github.com/sutto4/ccc-sub004/internal/pkg/billing"
	"github.com/sutto4/ccc-sub004/internal/pkg/botstatus"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/health"
	"github.com/sutto4/ccc-sub004/internal/pkg/jobqueue"
	"github.com/sutto4/ccc-sub004/internal/pkg/quota"
	"github.com/sutto4/ccc-sub004/internal/pkg/ratelimit"
	"github.com/sutto4/ccc-sub004/internal/pkg/statistics"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the routes are served from. Queue,
// Limiter, LimiterStorage and Health are optional.
type Dependencies struct {
	APITokens     []string
	WebhookSecret string

	Allocations *allocation.Manager
	Resolver    *entitlements.Resolver
	Catalog     *entitlements.Catalog
	Ledger      *quota.Ledger
	Billing     *billing.Service
	Queue       *jobqueue.Queue
	Board       *botstatus.Board
	Statistics  *statistics.Service

	// Limiter guards mutation routes per route, caller IP and guild.
	Limiter ratelimit.Limiter
	// LimiterStorage backs the coarse /api limiter; nil keeps it in memory.
	LimiterStorage fiber.Storage

	Health *health.Monitor
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps.Health), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
