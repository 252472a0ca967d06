package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// guildRepository implements the GuildRepository interface
type guildRepository struct {
	db *gorm.DB
}

// NewGuildRepository creates a new guild repository instance
func NewGuildRepository(db *gorm.DB) GuildRepository {
	return &guildRepository{db: db}
}

func (r *guildRepository) Get(ctx context.Context, guildID string) (*models.Guild, error) {
	var guild models.Guild
	if err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&guild).Error; err != nil {
		return nil, errs.Classify(err)
	}
	return &guild, nil
}

func (r *guildRepository) Lock(ctx context.Context, guildID string) (*models.Guild, error) {
	var guild models.Guild
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("guild_id = ?", guildID).
		First(&guild).Error
	if err != nil {
		return nil, errs.Classify(err)
	}
	return &guild, nil
}

func (r *guildRepository) LockOrCreate(ctx context.Context, guildID string) (*models.Guild, bool, error) {
	fresh := models.Guild{GuildID: guildID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return nil, false, errs.Classify(res.Error)
	}
	guild, err := r.Lock(ctx, guildID)
	if err != nil {
		return nil, false, err
	}
	return guild, res.RowsAffected > 0, nil
}

func (r *guildRepository) Save(ctx context.Context, guild *models.Guild) error {
	return errs.Classify(r.db.WithContext(ctx).Save(guild).Error)
}

func (r *guildRepository) ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Guild, error) {
	var guilds []models.Guild
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&guilds).Error
	return guilds, errs.Classify(err)
}

func (r *guildRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Guild{}).Count(&count).Error
	return count, errs.Classify(err)
}

func (r *guildRepository) CountPremium(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Guild{}).Where("premium = ?", true).Count(&count).Error
	return count, errs.Classify(err)
}
