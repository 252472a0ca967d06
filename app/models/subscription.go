package models

import "time"

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusExpired    = "expired"
)

// Subscription is a billing entity granting capacity for a number of guild slots.
// UsedServers is a cached value; it is rewritten from a recount of active
// allocations whenever allocations change.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID     string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"subscription_id"`
	OwnerID            string     `gorm:"type:varchar(64);not null;default:'';index" json:"owner_id"`
	PlanType           string     `gorm:"type:varchar(50);not null;default:'solo'" json:"plan_type"`
	MaxServers         int        `gorm:"not null;default:1" json:"max_servers"`
	UsedServers        int        `gorm:"not null;default:0" json:"used_servers"`
	Status             string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCancelled reports whether the subscription no longer grants premium.
func (s *Subscription) IsCancelled() bool {
	switch s.Status {
	case SubscriptionStatusCanceled, SubscriptionStatusExpired:
		return true
	default:
		return false
	}
}

// AvailableSlots returns the number of guild slots still free.
func (s *Subscription) AvailableSlots() int {
	if s.UsedServers >= s.MaxServers {
		return 0
	}
	return s.MaxServers - s.UsedServers
}
