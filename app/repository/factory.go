package repository

import (
	"context"
	"database/sql"
	"sync"

	"gorm.io/gorm"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// NewRepositories builds every repository on top of db. Passing a
// transaction handle binds them all to that transaction.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Subscription: NewSubscriptionRepository(db),
		Allocation:   NewAllocationRepository(db),
		Guild:        NewGuildRepository(db),
		Feature:      NewFeatureRepository(db),
		GuildFeature: NewGuildFeatureRepository(db),
		Group:        NewGroupRepository(db),
		Quota:        NewQuotaRepository(db),
		PlanMapping:  NewPlanMappingRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}

// Factory manages repository instances and is the GORM-backed Store.
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// Repositories returns a singleton instance of all non-transactional repositories
func (f *Factory) Repositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// DB exposes the underlying connection for health checks.
func (f *Factory) DB() *gorm.DB {
	return f.db
}

// txOptions runs transactions at READ COMMITTED so plain reads issued after
// a row lock is granted see rows committed while waiting for it.
var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// Transaction runs fn inside one database transaction. Errors leaving fn are
// classified so callers only ever see the errs taxonomy.
func (f *Factory) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	}, txOptions)
	return errs.Classify(err)
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}
