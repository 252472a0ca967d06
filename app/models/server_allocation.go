package models

import "time"

// ServerAllocation assigns one guild to one subscription's capacity. Rows are
// never deleted: removal flips IsActive so the history stays auditable.
type ServerAllocation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_server_allocations_sub_guild,unique,priority:1;index:idx_server_allocations_sub_active,priority:1" json:"subscription_id"`
	GuildID        string     `gorm:"type:varchar(64);not null;index:ux_server_allocations_sub_guild,unique,priority:2;index:idx_server_allocations_guild_active,priority:1" json:"guild_id"`
	IsActive       bool       `gorm:"not null;default:true;index:idx_server_allocations_sub_active,priority:2;index:idx_server_allocations_guild_active,priority:2" json:"is_active"`
	AllocatedAt    time.Time  `gorm:"type:timestamp;not null" json:"allocated_at"`
	DeallocatedAt  *time.Time `gorm:"type:timestamp;default:null" json:"deallocated_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
