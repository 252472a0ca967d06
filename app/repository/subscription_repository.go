package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, errs.Classify(err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) LockBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("subscription_id = ?", subscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, errs.Classify(err)
	}
	return &sub, nil
}

// Upsert creates or updates by subscription_id. UsedServers is never taken
// from the caller; it is owned by the allocation manager.
func (r *subscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id",
			"plan_type",
			"max_servers",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return errs.Classify(err)
	}

	var persisted models.Subscription
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", sub.SubscriptionID).First(&persisted).Error; err != nil {
		return errs.Classify(err)
	}
	*sub = persisted
	return nil
}

func (r *subscriptionRepository) SetUsedServers(ctx context.Context, subscriptionID string, used int) error {
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("subscription_id = ?", subscriptionID).
		Update("used_servers", used).Error
	return errs.Classify(err)
}

func (r *subscriptionRepository) ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, errs.Classify(err)
}

func (r *subscriptionRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Subscription{})
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Count(&count).Error
	return count, errs.Classify(err)
}
