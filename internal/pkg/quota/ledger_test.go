package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutto4/ccc-sub004/app/repository/memory"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T, limits []Limit, opts ...Option) (*Ledger, *memory.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now), WithStatusCacheTTL(0)}, opts...)
	return NewLedger(store, limits, opts...), store, clock
}

var aiRequests = []Limit{{Service: "ai", QuotaType: "requests", Limit: 100, Window: time.Hour}}

func TestParseLimits(t *testing.T) {
	limits, err := ParseLimits(" bot:commands=10/30m, ai:requests=100/1h ")
	require.NoError(t, err)
	assert.Equal(t, []Limit{
		{Service: "ai", QuotaType: "requests", Limit: 100, Window: time.Hour},
		{Service: "bot", QuotaType: "commands", Limit: 10, Window: 30 * time.Minute},
	}, limits)

	defaults, err := ParseLimits("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimits, defaults)

	for _, bad := range []string{"ai=1/1h", "ai:requests=x/1h", "ai:requests=1", "ai:requests=1/0s", "ai:r=1/1h,ai:r=2/1h", ","} {
		_, err := ParseLimits(bad)
		assert.ErrorIs(t, err, errs.ErrInvalidInput, bad)
	}
}

func TestViolationRecordedOnCrossing(t *testing.T) {
	ledger, _, _ := newLedger(t, aiRequests)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
	}
	violations, err := ledger.GetQuotaViolations(ctx, "ai", 0)
	require.NoError(t, err)
	assert.Empty(t, violations, "reaching the limit is not a violation")

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
	violations, err = ledger.GetQuotaViolations(ctx, "ai", 0)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, int64(101), violations[0].ObservedCount)
	assert.Equal(t, int64(100), violations[0].Limit)
	assert.Equal(t, "requests", violations[0].QuotaType)

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
	violations, err = ledger.GetQuotaViolations(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, violations, 1, "only the crossing is recorded")
}

func TestViolationAfterWindowRolls(t *testing.T) {
	ledger, _, clock := newLedger(t, aiRequests)
	ctx := context.Background()

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 101})
	clock.Advance(61 * time.Minute)
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 50})
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 51})

	violations, err := ledger.GetQuotaViolations(ctx, "ai", 10)
	require.NoError(t, err)
	require.Len(t, violations, 2)
	assert.Equal(t, int64(101), violations[0].ObservedCount)
	assert.True(t, violations[0].CreatedAt.After(violations[1].CreatedAt))
}

func TestConcurrentTrackingRecordsOneViolation(t *testing.T) {
	ledger, _, _ := newLedger(t, aiRequests)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
		}()
	}
	wg.Wait()

	violations, err := ledger.GetQuotaViolations(ctx, "ai", 0)
	require.NoError(t, err)
	assert.Len(t, violations, 1)

	status, err := ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, int64(150), status[0].CurrentWindowUsage)
	assert.Zero(t, status[0].Remaining)
}

func TestTrackUsageSwallowsStorageErrors(t *testing.T) {
	ledger, store, _ := newLedger(t, aiRequests)
	ctx := context.Background()

	store.FailOn("Quota.InsertEvent", errors.New("connection refused"))
	assert.NotPanics(t, func() {
		ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 5})
	})

	status, err := ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err)
	assert.Zero(t, status[0].CurrentWindowUsage)

	ledger.TrackUsage(ctx, Usage{Service: "", QuotaType: "requests"})
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests"})
	status, err = ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status[0].CurrentWindowUsage, "zero count defaults to one")
}

func TestGetQuotaStatus(t *testing.T) {
	limits := []Limit{
		{Service: "ai", QuotaType: "requests", Limit: 10, Window: time.Hour},
		{Service: "bot", QuotaType: "commands", Limit: 5, Window: 10 * time.Minute},
	}
	ledger, _, clock := newLedger(t, limits)
	ctx := context.Background()

	ledger.TrackUsage(ctx, Usage{Service: "bot", QuotaType: "commands", Count: 3})
	clock.Advance(11 * time.Minute)
	ledger.TrackUsage(ctx, Usage{Service: "bot", QuotaType: "commands", Count: 1})
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 4})
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "unlimited", Count: 7})

	all, err := ledger.GetQuotaStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Status{
		{Service: "ai", QuotaType: "requests", CurrentWindowUsage: 4, Limit: 10, Remaining: 6, Window: "1h0m0s"},
		{Service: "bot", QuotaType: "commands", CurrentWindowUsage: 1, Limit: 5, Remaining: 4, Window: "10m0s"},
	}, all)

	bot, err := ledger.GetQuotaStatus(ctx, "bot")
	require.NoError(t, err)
	assert.Len(t, bot, 1)

	none, err := ledger.GetQuotaStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStatusCacheInvalidatedByTracking(t *testing.T) {
	ledger, store, _ := newLedger(t, aiRequests, WithStatusCacheTTL(time.Minute))
	ctx := context.Background()

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 2})
	first, err := ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err)
	assert.Equal(t, int64(2), first[0].CurrentWindowUsage)

	store.FailOn("Quota.SumSince", errors.New("down"))
	cached, err := ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err, "served from cache")
	assert.Equal(t, first, cached)

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
	fresh, err := ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err)
	assert.Equal(t, int64(3), fresh[0].CurrentWindowUsage)
}

func TestGetUsageStats(t *testing.T) {
	ledger, _, clock := newLedger(t, aiRequests)
	ctx := context.Background()

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
	clock.Advance(3 * time.Hour)
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 2})
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "tokens", Count: 300})
	ledger.TrackUsage(ctx, Usage{Service: "bot", QuotaType: "commands", Count: 9})

	stats, err := ledger.GetUsageStats(ctx, "ai", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(302), stats.TotalCount)
	assert.Equal(t, int64(2), stats.EventCount)
	assert.InDelta(t, 151.0, stats.AverageCount, 0.001)
	assert.Equal(t, []TypeStats{
		{QuotaType: "requests", TotalCount: 2, EventCount: 1},
		{QuotaType: "tokens", TotalCount: 300, EventCount: 1},
	}, stats.ByType)

	empty, err := ledger.GetUsageStats(ctx, "nobody", 24)
	require.NoError(t, err)
	assert.Zero(t, empty.AverageCount)
	assert.Empty(t, empty.ByType)

	_, err = ledger.GetUsageStats(ctx, "ai", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = ledger.GetUsageStats(ctx, "", 1)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = ledger.GetUsageStats(ctx, "ai", 3000000)
	assert.ErrorIs(t, err, errs.ErrInvalidInput, "lookback overflowing time.Duration")

	longest, err := ledger.GetUsageStats(ctx, "ai", int(MaxStatsHours))
	require.NoError(t, err)
	assert.Equal(t, int64(303), longest.TotalCount)
	assert.Equal(t, int64(3), longest.EventCount)
}

func TestViolationsLimitClamped(t *testing.T) {
	limits := []Limit{{Service: "ai", QuotaType: "requests", Limit: 0, Window: time.Minute}}
	ledger, _, clock := newLedger(t, limits)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
		clock.Advance(2 * time.Minute)
	}
	rows, err := ledger.GetQuotaViolations(ctx, "ai", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = ledger.GetQuotaViolations(ctx, "ai", 10000)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = ledger.GetQuotaViolations(ctx, "other", 0)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestPruneKeepsLongestWindow(t *testing.T) {
	limits := []Limit{{Service: "ai", QuotaType: "requests", Limit: 100, Window: 48 * time.Hour}}
	ledger, _, clock := newLedger(t, limits, WithRetention(time.Hour))
	ctx := context.Background()

	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})
	clock.Advance(24 * time.Hour)
	ledger.TrackUsage(ctx, Usage{Service: "ai", QuotaType: "requests", Count: 1})

	deleted, err := ledger.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted, "retention is raised to the widest window")

	clock.Advance(25 * time.Hour)
	deleted, err = ledger.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	status, err := ledger.GetQuotaStatus(ctx, "ai")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status[0].CurrentWindowUsage)
}
