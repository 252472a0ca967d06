package jobqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/metrics"
)

// EnqueueBulkFeatureToggle validates p and enqueues it. All-guild toggles
// always run here, never on a request path.
func (q *Queue) EnqueueBulkFeatureToggle(ctx context.Context, p BulkFeatureTogglePayload) (*Job, error) {
	p.GuildID = strings.TrimSpace(p.GuildID)
	if len(p.FeatureKeys) == 0 {
		return nil, fmt.Errorf("%w: feature_keys is required", errs.ErrInvalidInput)
	}
	if p.AllGuilds == (p.GuildID != "") {
		return nil, fmt.Errorf("%w: set exactly one of all_guilds and guild_id", errs.ErrInvalidInput)
	}
	return q.EnqueueJob(ctx, JobTypeBulkFeatureToggle, p.ToMap())
}

func bulkToggleHandler(resolver *entitlements.Resolver) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		p, err := BulkFeatureTogglePayloadFromMap(job.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid bulk toggle payload: %w", err)
		}

		scope := entitlements.GuildScope(p.GuildID)
		if p.AllGuilds {
			scope = entitlements.AllGuildsScope()
		}

		res, err := resolver.ApplyBulkToggle(ctx, scope, p.FeatureKeys, p.Enabled)
		metrics.BulkToggleRows.WithLabelValues("written").Add(float64(res.Written))
		metrics.BulkToggleRows.WithLabelValues("skipped").Add(float64(res.Skipped))
		summary := map[string]interface{}{
			"guilds":         res.Guilds,
			"written":        res.Written,
			"skipped":        res.Skipped,
			"failed_batches": res.FailedBatches,
		}
		if err != nil {
			return summary, err
		}
		log.Infof("[JobQueue] Bulk toggle %v=%t: %d guild(s), %d row(s) written, %d skipped",
			p.FeatureKeys, p.Enabled, res.Guilds, res.Written, res.Skipped)
		return summary, nil
	}
}
