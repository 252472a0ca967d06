package models

import "time"

// ServerGroup bundles guilds that are administered together.
type ServerGroup struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(150);not null" json:"name"`
	OwnerID   string    `gorm:"type:varchar(64);not null;default:'';index" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ServerGroupMember links a guild to a group; exactly one member per group is primary.
type ServerGroupMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GroupID   uint      `gorm:"not null;index:ux_server_group_members_group_guild,unique,priority:1" json:"group_id"`
	GuildID   string    `gorm:"type:varchar(64);not null;index:ux_server_group_members_group_guild,unique,priority:2" json:"guild_id"`
	IsPrimary bool      `gorm:"not null;default:false" json:"is_primary"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
