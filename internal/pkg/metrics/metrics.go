// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

var (
	AllocationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccc_allocation_operations_total",
			Help: "Allocation manager operations by outcome.",
		},
		[]string{"op", "result"},
	)

	AllocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccc_allocation_duration_seconds",
			Help:    "Duration of allocation manager transactions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	QuotaEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccc_quota_events_total",
			Help: "Usage units tracked by the quota ledger.",
		},
		[]string{"service", "quota_type"},
	)

	QuotaViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccc_quota_violations_total",
			Help: "Quota windows pushed past their limit.",
		},
		[]string{"service", "quota_type"},
	)

	QuotaTrackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ccc_quota_track_failures_total",
			Help: "Usage events that could not be stored.",
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccc_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"route"},
	)

	BulkToggleRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccc_bulk_toggle_rows_total",
			Help: "GuildFeature rows written or skipped by bulk toggles.",
		},
		[]string{"outcome"},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccc_jobs_processed_total",
			Help: "Background jobs by type and final status.",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		AllocationOps,
		AllocationDuration,
		QuotaEvents,
		QuotaViolations,
		QuotaTrackFailures,
		RateLimited,
		BulkToggleRows,
		JobsProcessed,
	)
}

// Handler serves the default registry.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// ObserveAllocation records one allocation manager operation.
func ObserveAllocation(op string, started time.Time, err error) {
	AllocationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	AllocationOps.WithLabelValues(op, ResultLabel(err)).Inc()
}

// ResultLabel maps an error onto a low-cardinality label value.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, errs.ErrAlreadyAllocated):
		return "already_allocated"
	case errors.Is(err, errs.ErrSubscriptionCancelled):
		return "subscription_cancelled"
	case errors.Is(err, errs.ErrPremiumRequired):
		return "premium_required"
	case errs.IsNotFound(err):
		return "not_found"
	case errors.Is(err, errs.ErrInvalidInput):
		return "invalid_input"
	case errs.IsRetryable(err):
		return "conflict"
	default:
		return "error"
	}
}
