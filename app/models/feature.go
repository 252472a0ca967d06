package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PackageFree    = "free"
	PackagePremium = "premium"
)

// Feature is a catalog entry. Guilds never create features; operators toggle
// IsActive to switch a feature off for everyone.
type Feature struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	FeatureKey     string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"feature_key" validate:"required,min=1,max=100"`
	DisplayName    string    `gorm:"type:varchar(200);not null" json:"display_name" validate:"required,max=200"`
	Description    string    `gorm:"type:text" json:"description"`
	MinimumPackage string    `gorm:"type:varchar(20);not null;default:'free';index" json:"minimum_package" validate:"required,oneof=free premium"`
	IsActive       bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (f *Feature) Validate() error {
	v := validator.New()
	return v.Struct(f)
}

// IsPremiumOnly reports whether the feature needs a premium guild.
func (f *Feature) IsPremiumOnly() bool {
	return f.MinimumPackage == PackagePremium
}

// FeatureDefault says whether new guilds get a feature switched on.
type FeatureDefault struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FeatureKey string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"feature_key"`
	Enabled    bool      `gorm:"not null;default:false" json:"enabled"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GuildFeature is the per-guild override consulted at read time.
type GuildFeature struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	GuildID    string    `gorm:"type:varchar(64);not null;index:ux_guild_features_guild_feature,unique,priority:1" json:"guild_id"`
	FeatureKey string    `gorm:"type:varchar(100);not null;index:ux_guild_features_guild_feature,unique,priority:2;index" json:"feature_key"`
	Enabled    bool      `gorm:"not null;default:false" json:"enabled"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
