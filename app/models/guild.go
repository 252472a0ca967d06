package models

import "time"

// Guild is a managed community. Premium and the subscription snapshot are
// denormalized from the guild's active allocation and are only written by
// the allocation manager.
type Guild struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	GuildID            string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"guild_id"`
	Name               string     `gorm:"type:varchar(200);not null;default:''" json:"name"`
	Premium            bool       `gorm:"not null;default:false;index" json:"premium"`
	SubscriptionID     string     `gorm:"type:varchar(191);not null;default:''" json:"subscription_id"`
	SubscriptionStatus string     `gorm:"type:varchar(32);not null;default:''" json:"subscription_status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ApplySubscription copies the subscription snapshot onto the guild and marks it premium.
func (g *Guild) ApplySubscription(sub *Subscription) {
	g.Premium = true
	g.SubscriptionID = sub.SubscriptionID
	g.SubscriptionStatus = sub.Status
	g.CurrentPeriodStart = sub.CurrentPeriodStart
	g.CurrentPeriodEnd = sub.CurrentPeriodEnd
	g.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
}

// ClearSubscription drops premium and every subscription field.
func (g *Guild) ClearSubscription() {
	g.Premium = false
	g.SubscriptionID = ""
	g.SubscriptionStatus = ""
	g.CurrentPeriodStart = nil
	g.CurrentPeriodEnd = nil
	g.CancelAtPeriodEnd = false
}
