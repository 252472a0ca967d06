package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTypeValues(t *testing.T) {
	assert.Equal(t, "bulk_feature_toggle", string(JobTypeBulkFeatureToggle))
	assert.Equal(t, "reconcile_subscriptions", string(JobTypeReconcileSubscriptions))
	assert.Equal(t, "quota_prune", string(JobTypeQuotaPrune))
}

func TestBulkFeatureTogglePayloadSurvivesStorage(t *testing.T) {
	in := BulkFeatureTogglePayload{AllGuilds: true, FeatureKeys: []string{"welcome", "embedded-roles"}, Enabled: true}

	// Jobs are stored as JSON, so decode the map the way a worker sees it.
	raw, err := json.Marshal(&Job{Payload: in.ToMap()})
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal(raw, &job))

	out, err := BulkFeatureTogglePayloadFromMap(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
	assert.NotContains(t, in.ToMap(), "guild_id")
}

func TestJobLifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}
	before := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(before))

	job.MarkAsFailed("boom")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.False(t, job.IsRetryable())

	job.MarkAsFailed("boom again")
	assert.False(t, job.IsRetryable(), "retries exhausted")

	job.MarkAsCompleted(map[string]interface{}{"written": 3})
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, 3, job.Result["written"])
}
