package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository"
	"github.com/sutto4/ccc-sub004/app/repository/memory"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

type fixture struct {
	store    *memory.Store
	repos    *repository.Repositories
	resolver *entitlements.Resolver
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	resolver := entitlements.NewResolver(store)
	f := &fixture{
		store:    store,
		repos:    store.Repositories(),
		resolver: resolver,
		manager:  NewManager(store, resolver, WithTxTimeout(time.Second)),
	}

	ctx := context.Background()
	catalog := entitlements.NewCatalog(store)
	for _, feat := range []models.Feature{
		{FeatureKey: "moderation", DisplayName: "Moderation", MinimumPackage: models.PackageFree, IsActive: true},
		{FeatureKey: "welcome", DisplayName: "Welcome", MinimumPackage: models.PackageFree, IsActive: true},
		{FeatureKey: "embedded-roles", DisplayName: "Embedded roles", MinimumPackage: models.PackagePremium, IsActive: true},
		{FeatureKey: "custom-commands", DisplayName: "Custom commands", MinimumPackage: models.PackagePremium, IsActive: true},
	} {
		feat := feat
		require.NoError(t, catalog.Upsert(ctx, &feat))
	}
	require.NoError(t, catalog.SetDefault(ctx, "moderation", true))
	require.NoError(t, catalog.SetDefault(ctx, "welcome", false))
	require.NoError(t, catalog.SetDefault(ctx, "embedded-roles", true))
	require.NoError(t, catalog.SetDefault(ctx, "custom-commands", false))
	return f
}

func (f *fixture) subscription(t *testing.T, id string, max int, status string) {
	t.Helper()
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, f.repos.Subscription.Upsert(context.Background(), &models.Subscription{
		SubscriptionID:     id,
		OwnerID:            "owner-1",
		PlanType:           "team",
		MaxServers:         max,
		Status:             status,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}))
}

// assertInvariants checks the counter and premium invariants for every
// subscription and guild in the store.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	subs, err := f.repos.Subscription.ListAfter(ctx, 0, 1000)
	require.NoError(t, err)
	cancelled := map[string]bool{}
	for _, sub := range subs {
		active, err := f.repos.Allocation.ListActiveBySubscription(ctx, sub.SubscriptionID)
		require.NoError(t, err)
		assert.Equal(t, len(active), sub.UsedServers, "used_servers of %s", sub.SubscriptionID)
		cancelled[sub.SubscriptionID] = sub.IsCancelled()
	}

	guilds, err := f.repos.Guild.ListAfter(ctx, 0, 1000)
	require.NoError(t, err)
	for _, g := range guilds {
		a, err := f.repos.Allocation.FindActiveByGuild(ctx, g.GuildID)
		hasActive := err == nil && !cancelled[a.SubscriptionID]
		if err != nil {
			require.True(t, errs.IsNotFound(err))
		}
		assert.Equal(t, hasActive, g.Premium, "premium of %s", g.GuildID)
	}
}

func TestAllocateUntilCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 3, models.SubscriptionStatusActive)

	for i, guildID := range []string{"G1", "G2", "G3"} {
		usage, err := f.manager.Allocate(ctx, "sub_S", guildID)
		require.NoError(t, err)
		assert.Equal(t, i+1, usage.UsedServers)
		assert.Equal(t, 3, usage.MaxServers)
	}

	_, err := f.manager.Allocate(ctx, "sub_S", "G4")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrCapacityExceeded)
	var capErr *errs.CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 3, capErr.Used)
	assert.Equal(t, 3, capErr.Max)

	usage, err := f.manager.Usage(ctx, "sub_S")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.UsedServers)

	_, err = f.repos.Guild.Get(ctx, "G4")
	assert.True(t, errs.IsNotFound(err), "a refused allocation must not leave the guild behind")
	f.assertInvariants(t)
}

func TestAllocateSetsPremiumAndSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)

	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)

	g, err := f.repos.Guild.Get(ctx, "G1")
	require.NoError(t, err)
	assert.True(t, g.Premium)
	assert.Equal(t, "sub_S", g.SubscriptionID)
	assert.Equal(t, models.SubscriptionStatusActive, g.SubscriptionStatus)
	require.NotNil(t, g.CurrentPeriodEnd)

	features, err := f.resolver.ResolveEnabledFeatures(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, []string{"embedded-roles", "moderation"}, features)
}

func TestAllocateIsIdempotentForSameSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)

	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	usage, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.UsedServers)
	f.assertInvariants(t)
}

func TestAllocateRejectsSecondSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_A", 2, models.SubscriptionStatusActive)
	f.subscription(t, "sub_B", 2, models.SubscriptionStatusActive)

	_, err := f.manager.Allocate(ctx, "sub_A", "G1")
	require.NoError(t, err)

	_, err = f.manager.Allocate(ctx, "sub_B", "G1")
	assert.ErrorIs(t, err, errs.ErrAlreadyAllocated)

	usage, err := f.manager.Usage(ctx, "sub_B")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.UsedServers)
	f.assertInvariants(t)
}

func TestAllocateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_cancelled", 2, models.SubscriptionStatusCanceled)

	tests := []struct {
		name           string
		subscriptionID string
		guildID        string
		want           error
	}{
		{"missing subscription", "sub_missing", "G1", errs.ErrSubscriptionNotFound},
		{"cancelled subscription", "sub_cancelled", "G1", errs.ErrSubscriptionCancelled},
		{"empty guild", "sub_cancelled", "", errs.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Allocate(ctx, tt.subscriptionID, tt.guildID)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.repos.Guild.Get(ctx, "G1")
	assert.True(t, errs.IsNotFound(err))
}

func TestDeallocateDisablesPremiumFeatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 3, models.SubscriptionStatusActive)

	_, err := f.manager.Allocate(ctx, "sub_S", "G")
	require.NoError(t, err)
	_, err = f.resolver.ApplyBulkToggle(ctx, entitlements.GuildScope("G"), []string{"custom-commands"}, true)
	require.NoError(t, err)

	avail, err := f.manager.Deallocate(ctx, "sub_S", "G")
	require.NoError(t, err)
	assert.Equal(t, 3, avail.AvailableSlots)
	assert.Equal(t, 0, avail.UsedServers)

	g, err := f.repos.Guild.Get(ctx, "G")
	require.NoError(t, err)
	assert.False(t, g.Premium)
	assert.Empty(t, g.SubscriptionID)
	assert.Nil(t, g.CurrentPeriodEnd)

	rows, err := f.repos.GuildFeature.ListByGuild(ctx, "G")
	require.NoError(t, err)
	byKey := map[string]bool{}
	for _, r := range rows {
		byKey[r.FeatureKey] = r.Enabled
	}
	require.Contains(t, byKey, "embedded-roles")
	assert.False(t, byKey["embedded-roles"])
	require.Contains(t, byKey, "custom-commands")
	assert.False(t, byKey["custom-commands"])

	features, err := f.resolver.ResolveEnabledFeatures(ctx, "G")
	require.NoError(t, err)
	assert.Equal(t, []string{"moderation"}, features)
	f.assertInvariants(t)
}

func TestDeallocateTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)

	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	first, err := f.manager.Deallocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	before, err := f.repos.Allocation.Find(ctx, "sub_S", "G1")
	require.NoError(t, err)

	second, err := f.manager.Deallocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := f.repos.Allocation.Find(ctx, "sub_S", "G1")
	require.NoError(t, err)
	assert.Equal(t, before.DeallocatedAt, after.DeallocatedAt)
	f.assertInvariants(t)
}

func TestDeallocateNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)

	_, err := f.manager.Deallocate(ctx, "sub_missing", "G1")
	assert.ErrorIs(t, err, errs.ErrSubscriptionNotFound)
	assert.True(t, errs.IsNotFound(err))

	_, err = f.manager.Deallocate(ctx, "sub_S", "G1")
	assert.ErrorIs(t, err, errs.ErrAllocationNotFound)
}

func TestReallocateReactivatesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 1, models.SubscriptionStatusActive)

	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	first, err := f.repos.Allocation.Find(ctx, "sub_S", "G1")
	require.NoError(t, err)

	_, err = f.manager.Deallocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	_, err = f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)

	again, err := f.repos.Allocation.Find(ctx, "sub_S", "G1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.IsActive)
	assert.Nil(t, again.DeallocatedAt)
	f.assertInvariants(t)
}

func TestAllocateRollsBackOnFailure(t *testing.T) {
	steps := []string{
		"Allocation.Save",
		"Guild.Save",
		"Subscription.SetUsedServers",
		"GuildFeature.Upsert",
	}
	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)
			_, err := f.manager.Allocate(ctx, "sub_S", "G0")
			require.NoError(t, err)

			f.store.FailOn(step, errors.New("connection reset"))
			_, err = f.manager.Allocate(ctx, "sub_S", "G1")
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrPersistenceUnavailable)

			usage, err := f.manager.Usage(ctx, "sub_S")
			require.NoError(t, err)
			assert.Equal(t, 1, usage.UsedServers)
			_, err = f.repos.Allocation.Find(ctx, "sub_S", "G1")
			assert.True(t, errs.IsNotFound(err))
			f.assertInvariants(t)
		})
	}
}

func TestDeallocateRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)
	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)

	f.store.FailOn("GuildFeature.Upsert", errors.New("disk full"))
	_, err = f.manager.Deallocate(ctx, "sub_S", "G1")
	require.ErrorIs(t, err, errs.ErrPersistenceUnavailable)

	g, err := f.repos.Guild.Get(ctx, "G1")
	require.NoError(t, err)
	assert.True(t, g.Premium)
	a, err := f.repos.Allocation.Find(ctx, "sub_S", "G1")
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	f.assertInvariants(t)
}

func TestCancelledContextIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.subscription(t, "sub_S", 2, models.SubscriptionStatusActive)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	assert.True(t, errs.IsRetryable(err))
	f.assertInvariants(t)
}

func TestConcurrentAllocateRespectsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 3, models.SubscriptionStatusActive)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.Allocate(ctx, "sub_S", fmt.Sprintf("G%d", i))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, errs.ErrCapacityExceeded)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	f.assertInvariants(t)
}

func TestConcurrentAllocateSameGuildTwoSubscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_A", 3, models.SubscriptionStatusActive)
	f.subscription(t, "sub_B", 3, models.SubscriptionStatusActive)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, sub := range []string{"sub_A", "sub_B"} {
		wg.Add(1)
		go func(i int, sub string) {
			defer wg.Done()
			_, results[i] = f.manager.Allocate(ctx, sub, "G1")
		}(i, sub)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, errs.ErrAlreadyAllocated)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	f.assertInvariants(t)
}

func TestSetPrimary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := &models.ServerGroup{Name: "network", OwnerID: "owner-1"}
	require.NoError(t, f.repos.Group.Create(ctx, group))
	for i, guildID := range []string{"G1", "G2", "G3"} {
		require.NoError(t, f.repos.Group.AddMember(ctx, &models.ServerGroupMember{GroupID: group.ID, GuildID: guildID, IsPrimary: i == 0}))
	}

	require.NoError(t, f.manager.SetPrimary(ctx, group.ID, "G3"))
	members, err := f.repos.Group.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	primaries := []string{}
	for _, m := range members {
		if m.IsPrimary {
			primaries = append(primaries, m.GuildID)
		}
	}
	assert.Equal(t, []string{"G3"}, primaries)

	err = f.manager.SetPrimary(ctx, group.ID, "G9")
	assert.ErrorIs(t, err, errs.ErrGroupMemberNotFound)
	members, err = f.repos.Group.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	for _, m := range members {
		assert.Equal(t, m.GuildID == "G3", m.IsPrimary)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 5, models.SubscriptionStatusActive)
	_, err := f.manager.Allocate(ctx, "sub_S", "G1")
	require.NoError(t, err)
	require.NoError(t, f.repos.Subscription.SetUsedServers(ctx, "sub_S", 4))

	checked, err := f.manager.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)

	usage, err := f.manager.Usage(ctx, "sub_S")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.UsedServers)
}

func TestReconcileReleasesCancelledSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 3, models.SubscriptionStatusActive)
	f.subscription(t, "sub_T", 3, models.SubscriptionStatusActive)
	for _, g := range []string{"G1", "G2"} {
		_, err := f.manager.Allocate(ctx, "sub_S", g)
		require.NoError(t, err)
	}
	_, err := f.manager.Allocate(ctx, "sub_T", "G3")
	require.NoError(t, err)

	// Status written without running the cascade.
	f.subscription(t, "sub_S", 3, models.SubscriptionStatusCanceled)

	checked, err := f.manager.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)

	for _, g := range []string{"G1", "G2"} {
		guild, err := f.repos.Guild.Get(ctx, g)
		require.NoError(t, err)
		assert.False(t, guild.Premium, g)
	}
	guild, err := f.repos.Guild.Get(ctx, "G3")
	require.NoError(t, err)
	assert.True(t, guild.Premium)

	usage, err := f.manager.Usage(ctx, "sub_S")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.UsedServers)
	f.assertInvariants(t)
}

func TestDeallocateAllAndRefreshSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.subscription(t, "sub_S", 3, models.SubscriptionStatusActive)
	for _, g := range []string{"G1", "G2"} {
		_, err := f.manager.Allocate(ctx, "sub_S", g)
		require.NoError(t, err)
	}

	sub, err := f.repos.Subscription.GetBySubscriptionID(ctx, "sub_S")
	require.NoError(t, err)
	sub.CancelAtPeriodEnd = true
	sub.Status = models.SubscriptionStatusPastDue
	require.NoError(t, f.repos.Subscription.Upsert(ctx, sub))

	refreshed, err := f.manager.RefreshSnapshot(ctx, "sub_S")
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	g, err := f.repos.Guild.Get(ctx, "G2")
	require.NoError(t, err)
	assert.True(t, g.CancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusPastDue, g.SubscriptionStatus)

	released, err := f.manager.DeallocateAll(ctx, "sub_S")
	require.NoError(t, err)
	assert.Equal(t, 2, released)
	usage, err := f.manager.Usage(ctx, "sub_S")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.UsedServers)
	f.assertInvariants(t)
}
