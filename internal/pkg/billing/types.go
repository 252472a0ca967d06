package billing

import "time"

// Normalized subscription event types.
const (
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
)

// SubscriptionEvent is the provider-agnostic shape used when syncing external
// subscription state into the local subscriptions table.
type SubscriptionEvent struct {
	Provider           string     `json:"provider"`
	EventID            string     `json:"event_id"`
	EventType          string     `json:"event_type"`
	SubscriptionID     string     `json:"subscription_id"`
	OwnerID            string     `json:"owner_id"`
	ProviderPlanRef    string     `json:"plan_ref"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// SyncResult describes what HandleSubscriptionEvent changed.
type SyncResult struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	PlanType       string `json:"plan_type"`
	MaxServers     int    `json:"max_servers"`
	Released       int    `json:"released"`
	Refreshed      int    `json:"refreshed"`
}
