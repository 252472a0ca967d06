package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// allocationRepository implements the AllocationRepository interface
type allocationRepository struct {
	db *gorm.DB
}

// NewAllocationRepository creates a new allocation repository instance
func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) Find(ctx context.Context, subscriptionID, guildID string) (*models.ServerAllocation, error) {
	var allocation models.ServerAllocation
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND guild_id = ?", subscriptionID, guildID).
		First(&allocation).Error
	if err != nil {
		return nil, errs.Classify(err)
	}
	return &allocation, nil
}

func (r *allocationRepository) FindActiveByGuild(ctx context.Context, guildID string) (*models.ServerAllocation, error) {
	var allocation models.ServerAllocation
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND is_active = ?", guildID, true).
		Order("id ASC").
		First(&allocation).Error
	if err != nil {
		return nil, errs.Classify(err)
	}
	return &allocation, nil
}

func (r *allocationRepository) Save(ctx context.Context, allocation *models.ServerAllocation) error {
	return errs.Classify(r.db.WithContext(ctx).Save(allocation).Error)
}

func (r *allocationRepository) CountActive(ctx context.Context, subscriptionID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ServerAllocation{}).
		Where("subscription_id = ? AND is_active = ?", subscriptionID, true).
		Count(&count).Error
	return int(count), errs.Classify(err)
}

func (r *allocationRepository) ListActiveBySubscription(ctx context.Context, subscriptionID string) ([]models.ServerAllocation, error) {
	var allocations []models.ServerAllocation
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND is_active = ?", subscriptionID, true).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, errs.Classify(err)
}
