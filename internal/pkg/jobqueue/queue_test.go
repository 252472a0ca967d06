package jobqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/app/repository/memory"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/testutil"
)

const isolatedJobQueueTestRedisDB = 14

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, DefaultWorkers},
		{"Negative workers", -1, DefaultWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.False(t, queue.running)
			assert.Empty(t, queue.handlers)
		})
	}
}

func TestEnqueueBulkFeatureToggleValidation(t *testing.T) {
	queue := NewQueue(nil, 1)
	ctx := context.Background()

	_, err := queue.EnqueueBulkFeatureToggle(ctx, BulkFeatureTogglePayload{AllGuilds: true})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = queue.EnqueueBulkFeatureToggle(ctx, BulkFeatureTogglePayload{FeatureKeys: []string{"a"}})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = queue.EnqueueBulkFeatureToggle(ctx, BulkFeatureTogglePayload{AllGuilds: true, GuildID: "G1", FeatureKeys: []string{"a"}})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestQueueRunsBulkToggle(t *testing.T) {
	client := testutil.IsolatedRedis(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	store := memory.New()
	catalog := entitlements.NewCatalog(store)
	require.NoError(t, catalog.Upsert(ctx, &models.Feature{FeatureKey: "welcome", DisplayName: "Welcome", IsActive: true}))
	repos := store.Repositories()
	for i := 0; i < 5; i++ {
		require.NoError(t, repos.Guild.Save(ctx, &models.Guild{GuildID: fmt.Sprintf("G%d", i)}))
	}

	queue := NewQueue(client, 2)
	queue.RegisterHandlers(Services{Resolver: entitlements.NewResolver(store, entitlements.WithBatchSize(2))})
	queue.Start()
	defer queue.Stop()

	job, err := queue.EnqueueBulkFeatureToggle(ctx, BulkFeatureTogglePayload{AllGuilds: true, FeatureKeys: []string{"welcome"}, Enabled: true})
	require.NoError(t, err)

	var done *Job
	require.Eventually(t, func() bool {
		done, err = queue.GetJob(ctx, job.ID)
		return err == nil && done.Status == JobStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
	assert.EqualValues(t, 5, done.Result["written"])
	assert.EqualValues(t, 5, done.Result["guilds"])

	rows, err := repos.GuildFeature.ListByGuild(ctx, "G3")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Enabled)

	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)
	stats, err := queue.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueueRetriesThenFails(t *testing.T) {
	client := testutil.IsolatedRedis(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()

	queue := NewQueue(client, 1)
	queue.retryDelay = 10 * time.Millisecond
	queue.Start()
	defer queue.Stop()

	job, err := queue.EnqueueJob(ctx, JobType("unregistered"), map[string]interface{}{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := queue.GetJob(ctx, job.ID)
		return err == nil && got.Status == JobStatusFailed && got.RetryCount == DefaultMaxRetries
	}, 10*time.Second, 50*time.Millisecond)

	_, err = queue.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRecoverStuckJobs(t *testing.T) {
	client := testutil.IsolatedRedis(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	queue := NewQueue(client, 1)

	job, err := queue.EnqueueJob(ctx, JobTypeQuotaPrune, nil)
	require.NoError(t, err)
	require.NoError(t, client.LRem(ctx, JobQueueKey, 1, job.ID).Err())
	require.NoError(t, client.LPush(ctx, JobProcessingKey, job.ID).Err())

	started := time.Now().Add(-time.Hour)
	job.Status = JobStatusProcessing
	job.ProcessedAt = &started
	queue.updateJob(ctx, job)

	assert.Equal(t, 1, queue.recoverStuck(ctx, 10*time.Minute))
	size, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	got, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, got.Status)
}
