package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeBulkFeatureToggle      JobType = "bulk_feature_toggle"
	JobTypeReconcileSubscriptions JobType = "reconcile_subscriptions"
	JobTypeQuotaPrune             JobType = "quota_prune"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	Result      map[string]interface{} `json:"result,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// BulkFeatureTogglePayload contains the payload for bulk feature toggle jobs
type BulkFeatureTogglePayload struct {
	AllGuilds   bool     `json:"all_guilds"`
	GuildID     string   `json:"guild_id,omitempty"`
	FeatureKeys []string `json:"feature_keys"`
	Enabled     bool     `json:"enabled"`
}

// ToMap converts the payload to a map for storage
func (p BulkFeatureTogglePayload) ToMap() map[string]interface{} {
	keys := make([]interface{}, len(p.FeatureKeys))
	for i, k := range p.FeatureKeys {
		keys[i] = k
	}
	m := map[string]interface{}{
		"all_guilds":   p.AllGuilds,
		"feature_keys": keys,
		"enabled":      p.Enabled,
	}
	if p.GuildID != "" {
		m["guild_id"] = p.GuildID
	}
	return m
}

// BulkFeatureTogglePayloadFromMap creates a payload from a map
func BulkFeatureTogglePayloadFromMap(data map[string]interface{}) (*BulkFeatureTogglePayload, error) {
	var payload BulkFeatureTogglePayload
	if err := decodeMap(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// decodeMap round-trips data through JSON into out.
func decodeMap(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted(result map[string]interface{}) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
	j.Result = result
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
