package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

// groupRepository implements the GroupRepository interface
type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a new server group repository instance
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Create(ctx context.Context, group *models.ServerGroup) error {
	return errs.Classify(r.db.WithContext(ctx).Create(group).Error)
}

func (r *groupRepository) AddMember(ctx context.Context, member *models.ServerGroupMember) error {
	return errs.Classify(r.db.WithContext(ctx).Create(member).Error)
}

func (r *groupRepository) ListMembers(ctx context.Context, groupID uint) ([]models.ServerGroupMember, error) {
	var members []models.ServerGroupMember
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id ASC").Find(&members).Error
	return members, errs.Classify(err)
}

func (r *groupRepository) LockMembers(ctx context.Context, groupID uint) ([]models.ServerGroupMember, error) {
	var members []models.ServerGroupMember
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("group_id = ?", groupID).
		Order("id ASC").
		Find(&members).Error
	return members, errs.Classify(err)
}

func (r *groupRepository) ClearPrimary(ctx context.Context, groupID uint) error {
	err := r.db.WithContext(ctx).
		Model(&models.ServerGroupMember{}).
		Where("group_id = ?", groupID).
		Update("is_primary", false).Error
	return errs.Classify(err)
}

func (r *groupRepository) MarkPrimary(ctx context.Context, groupID uint, guildID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServerGroupMember{}).
		Where("group_id = ? AND guild_id = ?", groupID, guildID).
		Update("is_primary", true)
	return res.RowsAffected, errs.Classify(res.Error)
}
