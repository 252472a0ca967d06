package controllers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sutto4/ccc-sub004/internal/pkg/allocation"
	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
	"github.com/sutto4/ccc-sub004/internal/pkg/retry"
	"github.com/sutto4/ccc-sub004/internal/pkg/statistics"
)

// AllocationController exposes the allocation manager over HTTP.
type AllocationController struct {
	manager *allocation.Manager
	stats   *statistics.Service
}

// NewAllocationController creates an allocation controller. stats may be
// nil; when set its cache is dropped after every successful mutation.
func NewAllocationController(manager *allocation.Manager, stats *statistics.Service) *AllocationController {
	return &AllocationController{manager: manager, stats: stats}
}

type setPrimaryRequest struct {
	GuildID string `json:"guild_id" validate:"required,max=64"`
}

// HandleAllocate assigns the guild in the path to the subscription in the path.
func (ac *AllocationController) HandleAllocate(c *fiber.Ctx) error {
	subscriptionID, guildID := c.Params("subscriptionID"), c.Params("guildID")
	usage, err := retry.Value(c.UserContext(), func(ctx context.Context) (allocation.Usage, error) {
		return ac.manager.Allocate(ctx, subscriptionID, guildID)
	})
	if err != nil {
		return respondError(c, err)
	}
	ac.invalidateStats(c.UserContext())
	return c.Status(fiber.StatusOK).JSON(usage)
}

// HandleDeallocate releases the guild in the path from the subscription.
func (ac *AllocationController) HandleDeallocate(c *fiber.Ctx) error {
	subscriptionID, guildID := c.Params("subscriptionID"), c.Params("guildID")
	avail, err := retry.Value(c.UserContext(), func(ctx context.Context) (allocation.Availability, error) {
		return ac.manager.Deallocate(ctx, subscriptionID, guildID)
	})
	if err != nil {
		return respondError(c, err)
	}
	ac.invalidateStats(c.UserContext())
	return c.Status(fiber.StatusOK).JSON(avail)
}

// HandleUsage returns the used and maximum server counts of a subscription.
func (ac *AllocationController) HandleUsage(c *fiber.Ctx) error {
	usage, err := ac.manager.Usage(c.UserContext(), c.Params("subscriptionID"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(usage)
}

// HandleReconcile rewrites a subscription's UsedServers from a recount.
func (ac *AllocationController) HandleReconcile(c *fiber.Ctx) error {
	usage, err := retry.Value(c.UserContext(), func(ctx context.Context) (allocation.Usage, error) {
		return ac.manager.Reconcile(ctx, c.Params("subscriptionID"))
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(usage)
}

// HandleSetPrimary marks one member of a server group as its primary guild.
func (ac *AllocationController) HandleSetPrimary(c *fiber.Ctx) error {
	groupID, err := strconv.ParseUint(strings.TrimSpace(c.Params("groupID")), 10, 64)
	if err != nil || groupID == 0 {
		return respondError(c, fmt.Errorf("%w: invalid group id", errs.ErrInvalidInput))
	}
	var req setPrimaryRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	err = retry.Do(c.UserContext(), func(ctx context.Context) error {
		return ac.manager.SetPrimary(ctx, uint(groupID), req.GuildID)
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"group_id": groupID, "primary_guild_id": req.GuildID})
}

func (ac *AllocationController) invalidateStats(ctx context.Context) {
	if ac.stats != nil {
		ac.stats.Invalidate(ctx)
	}
}
