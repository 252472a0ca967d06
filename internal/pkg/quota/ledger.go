// Package quota records usage events and answers windowed consumption
// questions against configured limits.
package quota

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	gocache "github.com/patrickmn/go-cache"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/metrics"
)

const (
	DefaultViolationsLimit = 50
	MaxViolationsLimit     = 500
	DefaultStatusCacheTTL  = 5 * time.Second
	DefaultRetention       = 30 * 24 * time.Hour

	// MaxStatsHours is the longest lookback that fits in a time.Duration.
	MaxStatsHours = int64(math.MaxInt64 / time.Hour)
)

// Usage is one unit of consumption reported by a caller.
type Usage struct {
	Service   string
	QuotaType string
	Count     int64
	Endpoint  string
	CallerID  string
}

// Status is the current window usage for one configured limit.
type Status struct {
	Service            string `json:"service"`
	QuotaType          string `json:"quota_type"`
	CurrentWindowUsage int64  `json:"current_window_usage"`
	Limit              int64  `json:"limit"`
	Remaining          int64  `json:"remaining"`
	Window             string `json:"window"`
}

// TypeStats is the usage of one quota type inside a Stats lookback.
type TypeStats struct {
	QuotaType  string `json:"quota_type"`
	TotalCount int64  `json:"total_count"`
	EventCount int64  `json:"event_count"`
}

// Stats summarises a service's usage over a lookback window.
type Stats struct {
	Service      string      `json:"service"`
	Hours        int         `json:"hours"`
	TotalCount   int64       `json:"total_count"`
	EventCount   int64       `json:"event_count"`
	AverageCount float64     `json:"average_count"`
	ByType       []TypeStats `json:"by_type"`
}

// Ledger is the durable quota accounting service.
type Ledger struct {
	store     repository.Store
	limits    []Limit
	byKey     map[string]Limit
	retention time.Duration
	now       func() time.Time

	statusCache *gocache.Cache
	keyLocks    sync.Map
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStatusCacheTTL sets how long GetQuotaStatus results are reused. A
// non-positive ttl disables the cache.
func WithStatusCacheTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl <= 0 {
			l.statusCache = nil
			return
		}
		l.statusCache = gocache.New(ttl, 2*ttl)
	}
}

// WithRetention sets the minimum age of events removed by Prune.
func WithRetention(d time.Duration) Option {
	return func(l *Ledger) { l.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger builds a ledger over store enforcing limits.
func NewLedger(store repository.Store, limits []Limit, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		limits:      append([]Limit(nil), limits...),
		byKey:       make(map[string]Limit, len(limits)),
		retention:   DefaultRetention,
		now:         time.Now,
		statusCache: gocache.New(DefaultStatusCacheTTL, 2*DefaultStatusCacheTTL),
	}
	sortLimits(l.limits)
	for _, limit := range l.limits {
		l.byKey[limit.key()] = limit
	}
	for _, opt := range opts {
		opt(l)
	}
	// Pruning never removes events a status window still reads.
	if longest := LongestWindow(l.limits); l.retention < longest {
		l.retention = longest
	}
	return l
}

// Limits returns the configured limits.
func (l *Ledger) Limits() []Limit {
	return append([]Limit(nil), l.limits...)
}

// TrackUsage appends one usage event. Storage errors are logged and dropped
// so accounting never blocks the caller's request.
func (l *Ledger) TrackUsage(ctx context.Context, u Usage) {
	u.Service = strings.TrimSpace(u.Service)
	u.QuotaType = strings.TrimSpace(u.QuotaType)
	if u.Service == "" || u.QuotaType == "" {
		log.Warnf("[Quota] Ignoring usage without service or quota type")
		return
	}
	if u.Count <= 0 {
		u.Count = 1
	}

	limit, limited := l.byKey[u.Service+":"+u.QuotaType]
	if limited {
		mu := l.keyLock(limit.key())
		mu.Lock()
		defer mu.Unlock()
	}

	now := l.now()
	event := &models.QuotaEvent{
		Service:   u.Service,
		QuotaType: u.QuotaType,
		Count:     u.Count,
		Endpoint:  u.Endpoint,
		CallerID:  u.CallerID,
		CreatedAt: now,
	}
	repos := l.store.Repositories()
	if err := repos.Quota.InsertEvent(ctx, event); err != nil {
		metrics.QuotaTrackFailures.Inc()
		log.Errorf("[Quota] Failed to track %s:%s usage: %v", u.Service, u.QuotaType, err)
		return
	}
	metrics.QuotaEvents.WithLabelValues(u.Service, u.QuotaType).Add(float64(u.Count))
	l.invalidate(u.Service)

	if !limited {
		return
	}
	total, err := repos.Quota.SumSince(ctx, u.Service, u.QuotaType, now.Add(-limit.Window))
	if err != nil {
		log.Errorf("[Quota] Failed to aggregate %s usage: %v", limit.key(), err)
		return
	}
	if total-u.Count > limit.Limit || total <= limit.Limit {
		return
	}

	violation := &models.QuotaViolation{
		Service:       u.Service,
		QuotaType:     u.QuotaType,
		ObservedCount: total,
		Limit:         limit.Limit,
		CreatedAt:     now,
	}
	if err := repos.Quota.InsertViolation(ctx, violation); err != nil {
		log.Errorf("[Quota] Failed to record %s violation: %v", limit.key(), err)
		return
	}
	metrics.QuotaViolations.WithLabelValues(u.Service, u.QuotaType).Inc()
	log.Warnf("[Quota] %s exceeded limit %d (observed %d in %s)", limit.key(), limit.Limit, total, limit.Window)
}

// GetQuotaStatus reports current-window usage for every configured limit,
// filtered to service when it is non-empty.
func (l *Ledger) GetQuotaStatus(ctx context.Context, service string) ([]Status, error) {
	service = strings.TrimSpace(service)
	cacheKey := "status:" + service
	if l.statusCache != nil {
		if cached, ok := l.statusCache.Get(cacheKey); ok {
			return append([]Status(nil), cached.([]Status)...), nil
		}
	}

	repos := l.store.Repositories()
	now := l.now()
	out := make([]Status, 0, len(l.limits))
	for _, limit := range l.limits {
		if service != "" && limit.Service != service {
			continue
		}
		used, err := repos.Quota.SumSince(ctx, limit.Service, limit.QuotaType, now.Add(-limit.Window))
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %s usage: %w", limit.key(), err)
		}
		remaining := limit.Limit - used
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Status{
			Service:            limit.Service,
			QuotaType:          limit.QuotaType,
			CurrentWindowUsage: used,
			Limit:              limit.Limit,
			Remaining:          remaining,
			Window:             limit.Window.String(),
		})
	}

	if l.statusCache != nil {
		l.statusCache.SetDefault(cacheKey, out)
	}
	return append([]Status(nil), out...), nil
}

// GetUsageStats sums a service's events over the last hours.
func (l *Ledger) GetUsageStats(ctx context.Context, service string, hours int) (Stats, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return Stats{}, fmt.Errorf("%w: service is required", errs.ErrInvalidInput)
	}
	if hours <= 0 {
		return Stats{}, fmt.Errorf("%w: hours must be positive", errs.ErrInvalidInput)
	}
	if int64(hours) > MaxStatsHours {
		return Stats{}, fmt.Errorf("%w: hours must not exceed %d", errs.ErrInvalidInput, MaxStatsHours)
	}

	since := l.now().Add(-time.Duration(hours) * time.Hour)
	rows, err := l.store.Repositories().Quota.StatsSince(ctx, service, since)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load %s usage stats: %w", service, err)
	}

	stats := Stats{Service: service, Hours: hours, ByType: make([]TypeStats, 0, len(rows))}
	for _, row := range rows {
		stats.TotalCount += row.Total
		stats.EventCount += row.Events
		stats.ByType = append(stats.ByType, TypeStats{
			QuotaType:  row.QuotaType,
			TotalCount: row.Total,
			EventCount: row.Events,
		})
	}
	if stats.EventCount > 0 {
		stats.AverageCount = float64(stats.TotalCount) / float64(stats.EventCount)
	}
	return stats, nil
}

// GetQuotaViolations lists recorded violations newest first.
func (l *Ledger) GetQuotaViolations(ctx context.Context, service string, limit int) ([]models.QuotaViolation, error) {
	if limit <= 0 {
		limit = DefaultViolationsLimit
	}
	if limit > MaxViolationsLimit {
		limit = MaxViolationsLimit
	}
	rows, err := l.store.Repositories().Quota.ListViolations(ctx, strings.TrimSpace(service), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quota violations: %w", err)
	}
	if rows == nil {
		rows = []models.QuotaViolation{}
	}
	return rows, nil
}

// Prune deletes events older than the retention period.
func (l *Ledger) Prune(ctx context.Context) (int64, error) {
	cutoff := l.now().Add(-l.retention)
	deleted, err := l.store.Repositories().Quota.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune quota events: %w", err)
	}
	if deleted > 0 {
		log.Infof("[Quota] Pruned %d events older than %s", deleted, cutoff.Format(time.RFC3339))
		if l.statusCache != nil {
			l.statusCache.Flush()
		}
	}
	return deleted, nil
}

func (l *Ledger) keyLock(key string) *sync.Mutex {
	mu, _ := l.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (l *Ledger) invalidate(service string) {
	if l.statusCache == nil {
		return
	}
	l.statusCache.Delete("status:" + service)
	l.statusCache.Delete("status:")
}
