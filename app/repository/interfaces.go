package repository

import (
	"context"
	"time"

	"github.com/sutto4/ccc-sub004/app/models"
)

// SubscriptionRepository defines the subscription operations the allocation
// manager and billing sync need.
type SubscriptionRepository interface {
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	// LockBySubscriptionID reads the row with an exclusive row lock held until the transaction ends.
	LockBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	SetUsedServers(ctx context.Context, subscriptionID string, used int) error
	ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Subscription, error)
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// AllocationRepository defines operations on guild-to-subscription allocations.
type AllocationRepository interface {
	Find(ctx context.Context, subscriptionID, guildID string) (*models.ServerAllocation, error)
	FindActiveByGuild(ctx context.Context, guildID string) (*models.ServerAllocation, error)
	Save(ctx context.Context, allocation *models.ServerAllocation) error
	CountActive(ctx context.Context, subscriptionID string) (int, error)
	ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]models.ServerAllocation, error)
}

// GuildRepository defines guild lookups and the locked read-modify-write path.
type GuildRepository interface {
	Get(ctx context.Context, guildID string) (*models.Guild, error)
	Lock(ctx context.Context, guildID string) (*models.Guild, error)
	// LockOrCreate inserts the guild when absent and returns it locked. created
	// reports whether this call inserted the row.
	LockOrCreate(ctx context.Context, guildID string) (guild *models.Guild, created bool, err error)
	Save(ctx context.Context, guild *models.Guild) error
	ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Guild, error)
	Count(ctx context.Context) (int64, error)
	CountPremium(ctx context.Context) (int64, error)
}

// FeatureRepository defines catalog and default-enablement operations.
type FeatureRepository interface {
	List(ctx context.Context) ([]models.Feature, error)
	GetByKey(ctx context.Context, featureKey string) (*models.Feature, error)
	Upsert(ctx context.Context, feature *models.Feature) error
	SetActive(ctx context.Context, featureKey string, active bool) error
	ListDefaults(ctx context.Context) ([]models.FeatureDefault, error)
	SetDefault(ctx context.Context, featureKey string, enabled bool) error
}

// GuildFeatureRepository defines per-guild feature override operations.
type GuildFeatureRepository interface {
	ListByGuild(ctx context.Context, guildID string) ([]models.GuildFeature, error)
	// Upsert inserts rows or updates Enabled on (guild_id, feature_key) conflicts.
	Upsert(ctx context.Context, rows []models.GuildFeature) error
	// InsertMissing inserts rows and leaves existing (guild_id, feature_key) rows untouched.
	InsertMissing(ctx context.Context, rows []models.GuildFeature) error
}

// GroupRepository defines server-group membership operations.
type GroupRepository interface {
	Create(ctx context.Context, group *models.ServerGroup) error
	AddMember(ctx context.Context, member *models.ServerGroupMember) error
	ListMembers(ctx context.Context, groupID uint) ([]models.ServerGroupMember, error)
	LockMembers(ctx context.Context, groupID uint) ([]models.ServerGroupMember, error)
	ClearPrimary(ctx context.Context, groupID uint) error
	MarkPrimary(ctx context.Context, groupID uint, guildID string) (int64, error)
}

// QuotaTypeStats is the typed shape of a grouped usage aggregate.
type QuotaTypeStats struct {
	QuotaType string `gorm:"column:quota_type"`
	Total     int64  `gorm:"column:total"`
	Events    int64  `gorm:"column:events"`
}

// QuotaRepository defines quota ledger storage.
type QuotaRepository interface {
	InsertEvent(ctx context.Context, event *models.QuotaEvent) error
	SumSince(ctx context.Context, service, quotaType string, since time.Time) (int64, error)
	StatsSince(ctx context.Context, service string, since time.Time) ([]QuotaTypeStats, error)
	InsertViolation(ctx context.Context, violation *models.QuotaViolation) error
	ListViolations(ctx context.Context, service string, limit int) ([]models.QuotaViolation, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// PlanMappingRepository resolves provider plan references.
type PlanMappingRepository interface {
	FindActive(ctx context.Context, provider, providerPlanRef string) (*models.BillingPlanMapping, error)
	Upsert(ctx context.Context, mapping *models.BillingPlanMapping) error
}

// WebhookEventRepository persists billing webhook deliveries for deduplication.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Subscription SubscriptionRepository
	Allocation   AllocationRepository
	Guild        GuildRepository
	Feature      FeatureRepository
	GuildFeature GuildFeatureRepository
	Group        GroupRepository
	Quota        QuotaRepository
	PlanMapping  PlanMappingRepository
	WebhookEvent WebhookEventRepository
}

// Store hands out repositories and runs atomic units of work. Every
// repository passed to fn shares one transaction; returning an error from fn
// rolls all of their writes back.
type Store interface {
	Repositories() *Repositories
	Transaction(ctx context.Context, fn func(tx *Repositories) error) error
}
