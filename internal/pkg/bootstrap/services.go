// Package bootstrap assembles the console services from a Config. The HTTP
// server and the admin CLI share it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/app/repository/memory"
	"github.com/sutto4/ccc-sub004/internal/pkg/allocation"
	"github.com/sutto4/ccc-sub004/internal/pkg/billing"
	"github.com/sutto4/ccc-sub004/internal/pkg/botstatus"
	"github.com/sutto4/ccc-sub004/internal/pkg/cache"
	"github.com/sutto4/ccc-sub004/internal/pkg/config"
	"github.com/sutto4/ccc-sub004/internal/pkg/database"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/health"
	"github.com/sutto4/ccc-sub004/internal/pkg/jobqueue"
	"github.com/sutto4/ccc-sub004/internal/pkg/quota"
	"github.com/sutto4/ccc-sub004/internal/pkg/ratelimit"
	"github.com/sutto4/ccc-sub004/internal/pkg/router"
	"github.com/sutto4/ccc-sub004/internal/pkg/statistics"
)

const (
	redisPingTimeout   = 2 * time.Second
	rateLimitSweepTick = time.Minute

	// HealthInterval is how often the health monitor refreshes its report.
	HealthInterval = 30 * time.Second
)

// Services holds every long-lived component. Redis and Queue are nil when
// no redis server is reachable.
type Services struct {
	Config *config.Config
	Store  repository.Store
	Redis  *redis.Client

	Catalog     *entitlements.Catalog
	Resolver    *entitlements.Resolver
	Allocations *allocation.Manager
	Ledger      *quota.Ledger
	Billing     *billing.Service
	Statistics  *statistics.Service
	Board       *botstatus.Board
	Queue       *jobqueue.Queue
	Jobs        *jobqueue.Manager
	Limiter     ratelimit.Limiter
	Health      *health.Monitor

	stopLimiter func()
}

// New opens the store, connects to redis when available and builds the services.
func New(cfg *config.Config) (*Services, error) {
	return Assemble(cfg, openStore(cfg), connectRedis())
}

// Assemble builds the services on an already opened store. client may be nil.
func Assemble(cfg *config.Config, store repository.Store, client *redis.Client) (*Services, error) {
	limits, err := quota.ParseLimits(cfg.QuotaLimits)
	if err != nil {
		return nil, fmt.Errorf("QUOTA_LIMITS: %w", err)
	}

	s := &Services{Config: cfg, Store: store, Redis: client}

	s.Catalog = entitlements.NewCatalog(s.Store)
	s.Resolver = entitlements.NewResolver(s.Store,
		entitlements.WithBatchSize(cfg.BulkBatchSize),
		entitlements.WithParallelism(cfg.BulkParallelism),
	)
	s.Allocations = allocation.NewManager(s.Store, s.Resolver, allocation.WithTxTimeout(cfg.AllocationTxTimeout))
	s.Ledger = quota.NewLedger(s.Store, limits,
		quota.WithStatusCacheTTL(cfg.QuotaStatusCacheTTL),
		quota.WithRetention(cfg.QuotaRetention),
	)
	s.Billing = billing.NewService(s.Store, s.Allocations)
	s.Statistics = statistics.NewService(s.Store, s.Redis)
	s.Board = botstatus.NewBoard(cfg.BotStatusLogLines, botstatus.DefaultStaleAfter)

	if s.Redis != nil {
		s.Queue = jobqueue.NewQueue(s.Redis, cfg.JobWorkers)
		s.Queue.RegisterHandlers(jobqueue.Services{
			Resolver:    s.Resolver,
			Allocations: s.Allocations,
			Ledger:      s.Ledger,
		})
	}
	s.Jobs = jobqueue.NewManager(s.Queue,
		jobqueue.PruneTask(s.Ledger, cfg.PruneInterval),
		jobqueue.ReconcileTask(s.Allocations, cfg.ReconcileInterval),
	)

	s.Limiter, s.stopLimiter = newLimiter(cfg, s.Redis)
	s.Health = health.NewMonitor(sqlDB(store), s.Redis)
	return s, nil
}

// RouterDependencies exposes the services to the HTTP router.
func (s *Services) RouterDependencies() router.Dependencies {
	deps := router.Dependencies{
		APITokens:     s.Config.APITokens,
		WebhookSecret: s.Config.BillingWebhookSecret,
		Allocations:   s.Allocations,
		Resolver:      s.Resolver,
		Catalog:       s.Catalog,
		Ledger:        s.Ledger,
		Billing:       s.Billing,
		Queue:         s.Queue,
		Board:         s.Board,
		Statistics:    s.Statistics,
		Limiter:       s.Limiter,
		Health:        s.Health,
	}
	if s.Redis != nil {
		deps.LimiterStorage = cache.NewFiberStorage(cache.LimiterDatabase)
	}
	return deps
}

// Close stops background work and releases connections.
func (s *Services) Close() {
	if s.Jobs != nil {
		s.Jobs.Stop()
	}
	if s.Health != nil {
		s.Health.Stop()
	}
	if s.stopLimiter != nil {
		s.stopLimiter()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warnf("[Bootstrap] closing redis: %v", err)
		}
	}
}

func openStore(cfg *config.Config) repository.Store {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("[Bootstrap] using the in-memory store, data is lost on restart")
		return memory.New()
	}
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	return repository.GetGlobalFactory()
}

// sqlDB returns the connection pool behind a gorm-backed store, nil otherwise.
func sqlDB(store repository.Store) *sql.DB {
	f, ok := store.(*repository.Factory)
	if !ok || f.DB() == nil {
		return nil
	}
	db, err := f.DB().DB()
	if err != nil {
		log.Warnf("[Bootstrap] no sql handle for health checks: %v", err)
		return nil
	}
	return db
}

func connectRedis() *redis.Client {
	client := cache.GetClient()
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("[Bootstrap] redis unavailable, running without job queue and shared caches: %v", err)
		return nil
	}
	return client
}

func newLimiter(cfg *config.Config, client *redis.Client) (ratelimit.Limiter, func()) {
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		if client != nil {
			return ratelimit.NewRedisFixedWindow(client, cfg.RateLimitRequests, cfg.RateLimitWindow), nil
		}
		log.Warn("[Bootstrap] RATE_LIMIT_BACKEND=redis but redis is unavailable, falling back to memory")
	}
	fw := ratelimit.NewFixedWindow(cfg.RateLimitRequests, cfg.RateLimitWindow)
	fw.Start(rateLimitSweepTick)
	return fw, fw.Stop
}

// NewFiberConfig is the fiber configuration of the API server.
func NewFiberConfig() fiber.Config {
	return fiber.Config{
		AppName:   "ccc-console",
		BodyLimit: 1 << 20,
	}
}
