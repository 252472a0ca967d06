package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository/memory"
	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
	"github.com/sutto4/ccc-sub004/internal/pkg/config"
)

func useMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	cfg := &config.Config{
		StoreDriver:         config.StoreDriverMemory,
		AllocationTxTimeout: time.Second,
		QuotaStatusCacheTTL: 0,
		QuotaRetention:      time.Hour,
		RateLimitBackend:    config.RateLimitBackendMemory,
		RateLimitRequests:   10,
		RateLimitWindow:     time.Minute,
		BulkBatchSize:       10,
		BulkParallelism:     2,
		JobWorkers:          1,
		PruneInterval:       time.Hour,
		ReconcileInterval:   time.Hour,
		BotStatusLogLines:   10,
	}
	old := loadServices
	loadServices = func() (*bootstrap.Services, error) {
		return bootstrap.Assemble(cfg, store, nil)
	}
	t.Cleanup(func() { loadServices = old })
	return store
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	toggleAllGuilds, toggleGuildID, toggleEnabled, toggleEnqueue = false, "", true, false
	featureName, featurePackage, featureInactive, featureDefault = "", models.PackageFree, false, false
	planType, planMaxServers, planInactive = "solo", 1, false
	featuresSetCmd.Flags().Lookup("default").Changed = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFeaturesSetAndList(t *testing.T) {
	useMemoryStore(t)

	_, err := run(t, "features", "set", "welcome", "--name", "Welcome", "--default")
	require.NoError(t, err)
	_, err = run(t, "features", "set", "custom-commands", "--name", "Custom commands", "--package", "premium")
	require.NoError(t, err)
	_, err = run(t, "features", "set", "broken", "--name", "Broken", "--package", "gold")
	assert.Error(t, err)

	out, err := run(t, "features", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "welcome")
	assert.Contains(t, out, "custom-commands")
	assert.Regexp(t, `welcome\s+free\s+true\s+true`, out)
	assert.Regexp(t, `custom-commands\s+premium\s+true\s+false`, out)
}

func TestFeaturesToggleAllGuilds(t *testing.T) {
	store := useMemoryStore(t)
	ctx := context.Background()
	repos := store.Repositories()
	require.NoError(t, repos.Guild.Save(ctx, &models.Guild{GuildID: "G1"}))
	require.NoError(t, repos.Guild.Save(ctx, &models.Guild{GuildID: "G2", Premium: true}))

	_, err := run(t, "features", "set", "welcome", "--name", "Welcome")
	require.NoError(t, err)

	out, err := run(t, "features", "toggle", "welcome", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "guilds=2 written=2 skipped=0")

	_, err = run(t, "features", "toggle", "welcome")
	assert.Error(t, err, "scope is required")

	_, err = run(t, "features", "toggle", "welcome", "--all", "--enqueue")
	assert.Error(t, err, "no queue without redis")
}

func TestSubscriptionsAndPlans(t *testing.T) {
	store := useMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.Repositories().Subscription.Upsert(ctx, &models.Subscription{
		SubscriptionID: "sub_1",
		PlanType:       "squad",
		MaxServers:     3,
		Status:         models.SubscriptionStatusActive,
	}))

	out, err := run(t, "subscriptions", "reconcile", "sub_1")
	require.NoError(t, err)
	assert.Contains(t, out, "sub_1: 0/3 servers")

	out, err = run(t, "subscriptions", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "reconciled 1 subscriptions")

	_, err = run(t, "subscriptions", "usage", "missing")
	assert.Error(t, err)

	out, err = run(t, "plans", "set", "Stripe", "price_city", "--type", "city", "--max-servers", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "mapped stripe/price_city to city (10 servers)")
	m, err := store.Repositories().PlanMapping.FindActive(ctx, "stripe", "price_city")
	require.NoError(t, err)
	assert.Equal(t, 10, m.MaxServers)

	_, err = run(t, "plans", "set", "stripe", "price_x", "--max-servers", "0")
	assert.Error(t, err)
}

func TestQuotaCommands(t *testing.T) {
	useMemoryStore(t)

	out, err := run(t, "quota", "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 events")

	out, err = run(t, "quota", "status", "ai")
	require.NoError(t, err)
	assert.Contains(t, out, "requests")
	assert.Contains(t, out, "tokens")
}
