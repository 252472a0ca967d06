package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/jobqueue"
	"github.com/sutto4/ccc-sub004/internal/pkg/retry"
)

// FeatureController serves the feature catalog, per-guild resolution and
// toggles. queue may be nil, in which case bulk toggles are refused.
type FeatureController struct {
	resolver *entitlements.Resolver
	catalog  *entitlements.Catalog
	queue    *jobqueue.Queue
}

// NewFeatureController creates a new feature controller
func NewFeatureController(resolver *entitlements.Resolver, catalog *entitlements.Catalog, queue *jobqueue.Queue) *FeatureController {
	return &FeatureController{resolver: resolver, catalog: catalog, queue: queue}
}

type guildToggleRequest struct {
	FeatureKeys []string `json:"feature_keys" validate:"required,min=1,dive,required,max=100"`
	Enabled     *bool    `json:"enabled" validate:"required"`
}

type bulkToggleRequest struct {
	AllGuilds   bool     `json:"all_guilds"`
	GuildID     string   `json:"guild_id" validate:"max=64"`
	FeatureKeys []string `json:"feature_keys" validate:"required,min=1,dive,required,max=100"`
	Enabled     *bool    `json:"enabled" validate:"required"`
}

type upsertFeatureRequest struct {
	DisplayName    string `json:"display_name" validate:"required,max=200"`
	Description    string `json:"description"`
	MinimumPackage string `json:"minimum_package" validate:"required"`
	IsActive       *bool  `json:"is_active"`
	DefaultEnabled *bool  `json:"default_enabled"`
}

// HandleListFeatures returns the whole catalog.
func (fc *FeatureController) HandleListFeatures(c *fiber.Ctx) error {
	features, err := fc.catalog.List(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"features": features})
}

// HandleUpsertFeature creates or updates the catalog entry named in the path
// and optionally its default enablement.
func (fc *FeatureController) HandleUpsertFeature(c *fiber.Ctx) error {
	var req upsertFeatureRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	feature := &models.Feature{
		FeatureKey:     strings.TrimSpace(c.Params("featureKey")),
		DisplayName:    req.DisplayName,
		Description:    req.Description,
		MinimumPackage: req.MinimumPackage,
		IsActive:       req.IsActive == nil || *req.IsActive,
	}

	ctx := c.UserContext()
	if err := fc.catalog.Upsert(ctx, feature); err != nil {
		return respondError(c, err)
	}
	if req.DefaultEnabled != nil {
		if err := fc.catalog.SetDefault(ctx, feature.FeatureKey, *req.DefaultEnabled); err != nil {
			return respondError(c, err)
		}
	}
	return c.Status(fiber.StatusOK).JSON(feature)
}

// HandleResolveFeatures returns the effective feature keys of a guild.
func (fc *FeatureController) HandleResolveFeatures(c *fiber.Ctx) error {
	guildID := c.Params("guildID")
	keys, err := fc.resolver.ResolveEnabledFeatures(c.UserContext(), guildID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"guild_id": guildID, "features": keys})
}

// HandleGuildToggle switches features on or off for one guild synchronously.
func (fc *FeatureController) HandleGuildToggle(c *fiber.Ctx) error {
	var req guildToggleRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	guildID := c.Params("guildID")
	res, err := retry.Value(c.UserContext(), func(ctx context.Context) (entitlements.BulkResult, error) {
		return fc.resolver.ApplyBulkToggle(ctx, entitlements.GuildScope(guildID), req.FeatureKeys, *req.Enabled)
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleBulkToggle enqueues a toggle job and answers 202 with the job id.
func (fc *FeatureController) HandleBulkToggle(c *fiber.Ctx) error {
	if fc.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": "Job queue is not configured"})
	}
	var req bulkToggleRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	job, err := fc.queue.EnqueueBulkFeatureToggle(c.UserContext(), jobqueue.BulkFeatureTogglePayload{
		AllGuilds:   req.AllGuilds,
		GuildID:     req.GuildID,
		FeatureKeys: req.FeatureKeys,
		Enabled:     *req.Enabled,
	})
	if err != nil {
		return respondError(c, err)
	}
	c.Location("/api/v1/jobs/" + job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID, "status": job.Status})
}

// HandleGetJob returns a queued or finished job, including its result.
func (fc *FeatureController) HandleGetJob(c *fiber.Ctx) error {
	if fc.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable", "message": "Job queue is not configured"})
	}
	job, err := fc.queue.GetJob(c.UserContext(), c.Params("jobID"))
	if errors.Is(err, jobqueue.ErrUnknownJob) {
		return respondError(c, fmt.Errorf("job %w", errs.ErrNotFound))
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(job)
}
