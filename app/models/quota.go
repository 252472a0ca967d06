package models

import "time"

// QuotaEvent is one usage record. Events are only inserted and later pruned.
type QuotaEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Service   string    `gorm:"type:varchar(64);not null;index:idx_quota_events_service_type_time,priority:1" json:"service"`
	QuotaType string    `gorm:"type:varchar(64);not null;index:idx_quota_events_service_type_time,priority:2" json:"quota_type"`
	Count     int64     `gorm:"not null;default:1" json:"count"`
	Endpoint  string    `gorm:"type:varchar(255);not null;default:''" json:"endpoint"`
	CallerID  string    `gorm:"type:varchar(64);not null;default:'';index" json:"caller_id"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;index:idx_quota_events_service_type_time,priority:3;index" json:"created_at"`
}

// QuotaViolation records a usage event that pushed a window past its limit.
type QuotaViolation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Service       string    `gorm:"type:varchar(64);not null;index" json:"service"`
	QuotaType     string    `gorm:"type:varchar(64);not null" json:"quota_type"`
	ObservedCount int64     `gorm:"not null" json:"observed_count"`
	Limit         int64     `gorm:"column:quota_limit;not null" json:"limit"`
	CreatedAt     time.Time `gorm:"type:timestamp;not null;index" json:"created_at"`
}
