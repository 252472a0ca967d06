package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// featureRepository implements the FeatureRepository interface
type featureRepository struct {
	db *gorm.DB
}

// NewFeatureRepository creates a new feature repository instance
func NewFeatureRepository(db *gorm.DB) FeatureRepository {
	return &featureRepository{db: db}
}

func (r *featureRepository) List(ctx context.Context) ([]models.Feature, error) {
	var features []models.Feature
	err := r.db.WithContext(ctx).Order("feature_key ASC").Find(&features).Error
	return features, errs.Classify(err)
}

func (r *featureRepository) GetByKey(ctx context.Context, featureKey string) (*models.Feature, error) {
	var feature models.Feature
	if err := r.db.WithContext(ctx).Where("feature_key = ?", featureKey).First(&feature).Error; err != nil {
		return nil, errs.Classify(err)
	}
	return &feature, nil
}

func (r *featureRepository) Upsert(ctx context.Context, feature *models.Feature) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "description", "minimum_package", "is_active", "updated_at"}),
	}).Create(feature).Error
	return errs.Classify(err)
}

func (r *featureRepository) SetActive(ctx context.Context, featureKey string, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Feature{}).
		Where("feature_key = ?", featureKey).
		Update("is_active", active)
	if res.Error != nil {
		return errs.Classify(res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports 0 affected rows for a no-op update too.
		if _, err := r.GetByKey(ctx, featureKey); err != nil {
			return err
		}
	}
	return nil
}

func (r *featureRepository) ListDefaults(ctx context.Context) ([]models.FeatureDefault, error) {
	var defaults []models.FeatureDefault
	err := r.db.WithContext(ctx).Order("feature_key ASC").Find(&defaults).Error
	return defaults, errs.Classify(err)
}

func (r *featureRepository) SetDefault(ctx context.Context, featureKey string, enabled bool) error {
	row := models.FeatureDefault{FeatureKey: featureKey, Enabled: enabled}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&row).Error
	return errs.Classify(err)
}

// guildFeatureRepository implements the GuildFeatureRepository interface
type guildFeatureRepository struct {
	db *gorm.DB
}

// NewGuildFeatureRepository creates a new guild feature repository instance
func NewGuildFeatureRepository(db *gorm.DB) GuildFeatureRepository {
	return &guildFeatureRepository{db: db}
}

func (r *guildFeatureRepository) ListByGuild(ctx context.Context, guildID string) ([]models.GuildFeature, error) {
	var rows []models.GuildFeature
	err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).Order("feature_key ASC").Find(&rows).Error
	return rows, errs.Classify(err)
}

func (r *guildFeatureRepository) Upsert(ctx context.Context, rows []models.GuildFeature) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&rows).Error
	return errs.Classify(err)
}

func (r *guildFeatureRepository) InsertMissing(ctx context.Context, rows []models.GuildFeature) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	return errs.Classify(err)
}
