package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// quotaRepository implements the QuotaRepository interface
type quotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new quota repository instance
func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &quotaRepository{db: db}
}

func (r *quotaRepository) InsertEvent(ctx context.Context, event *models.QuotaEvent) error {
	return errs.Classify(r.db.WithContext(ctx).Create(event).Error)
}

func (r *quotaRepository) SumSince(ctx context.Context, service, quotaType string, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.QuotaEvent{}).
		Select("COALESCE(SUM(count), 0)").
		Where("service = ? AND quota_type = ? AND created_at >= ?", service, quotaType, since).
		Scan(&total).Error
	return total, errs.Classify(err)
}

func (r *quotaRepository) StatsSince(ctx context.Context, service string, since time.Time) ([]QuotaTypeStats, error) {
	var stats []QuotaTypeStats
	err := r.db.WithContext(ctx).
		Model(&models.QuotaEvent{}).
		Select("quota_type, COALESCE(SUM(count), 0) AS total, COUNT(*) AS events").
		Where("service = ? AND created_at >= ?", service, since).
		Group("quota_type").
		Order("quota_type ASC").
		Scan(&stats).Error
	return stats, errs.Classify(err)
}

func (r *quotaRepository) InsertViolation(ctx context.Context, violation *models.QuotaViolation) error {
	return errs.Classify(r.db.WithContext(ctx).Create(violation).Error)
}

func (r *quotaRepository) ListViolations(ctx context.Context, service string, limit int) ([]models.QuotaViolation, error) {
	var violations []models.QuotaViolation
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if service != "" {
		query = query.Where("service = ?", service)
	}
	err := query.Find(&violations).Error
	return violations, errs.Classify(err)
}

func (r *quotaRepository) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.QuotaEvent{})
	return res.RowsAffected, errs.Classify(res.Error)
}
