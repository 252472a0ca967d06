package models

import "time"

// BillingPlanMapping maps provider-specific plan references (price IDs)
// to an internal plan type and its guild-slot capacity.
type BillingPlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_billing_plan_mappings_ref,unique,priority:1;index" json:"provider"`
	ProviderPlanRef string    `gorm:"type:varchar(191);not null;index:ux_billing_plan_mappings_ref,unique,priority:2" json:"provider_plan_ref"`
	PlanType        string    `gorm:"type:varchar(50);not null;default:'solo';index" json:"plan_type"`
	MaxServers      int       `gorm:"not null;default:1" json:"max_servers"`
	IsActive        bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
