package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

type planMappingRepository struct {
	db *gorm.DB
}

// NewPlanMappingRepository creates a plan mapping repository backed by GORM.
func NewPlanMappingRepository(db *gorm.DB) PlanMappingRepository {
	return &planMappingRepository{db: db}
}

func (r *planMappingRepository) FindActive(ctx context.Context, provider, providerPlanRef string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_plan_ref = ? AND is_active = ?", provider, providerPlanRef, true).
		First(&m).Error
	if err != nil {
		return nil, errs.Classify(err)
	}
	return &m, nil
}

func (r *planMappingRepository) Upsert(ctx context.Context, mapping *models.BillingPlanMapping) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_plan_ref"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"plan_type", "max_servers", "is_active", "updated_at"}),
	}).Create(mapping).Error
	return errs.Classify(err)
}

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook event repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, errs.Classify(tx.Error)
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, errs.Classify(err)
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return errs.Classify(r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error)
}
