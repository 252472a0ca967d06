package billing

import (
	"strings"

	"github.com/sutto4/ccc-sub004/app/models"
)

// Built-in plan capacities, used when no active plan mapping exists and the
// provider plan reference names one of these plan types directly.
var planCapacity = map[string]int{
	"solo":       1,
	"squad":      3,
	"city":       10,
	"enterprise": 50,
}

func normalizePlanType(plan string) string {
	return strings.ToLower(strings.TrimSpace(plan))
}

func builtinCapacity(plan string) (int, bool) {
	n, ok := planCapacity[normalizePlanType(plan)]
	return n, ok
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "", models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case "cancelled", "deleted":
		return models.SubscriptionStatusCanceled
	case models.SubscriptionStatusTrialing,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusExpired,
		models.SubscriptionStatusIncomplete:
		return s
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func isEntitlingStatus(status string) bool {
	switch normalizeStatus(status) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
