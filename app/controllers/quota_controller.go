package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sutto4/ccc-sub004/internal/pkg/middleware"
	"github.com/sutto4/ccc-sub004/internal/pkg/quota"
)

const defaultStatsHours = 24

// QuotaController exposes the quota ledger.
type QuotaController struct {
	ledger *quota.Ledger
}

func NewQuotaController(ledger *quota.Ledger) *QuotaController {
	return &QuotaController{ledger: ledger}
}

type trackUsageRequest struct {
	Service   string `json:"service" validate:"required,max=64"`
	QuotaType string `json:"quota_type" validate:"required,max=64"`
	Count     int64  `json:"count" validate:"gte=0"`
	Endpoint  string `json:"endpoint" validate:"max=255"`
}

// HandleTrackUsage records one usage event for the calling token. Accounting
// failures never fail the request.
func (qc *QuotaController) HandleTrackUsage(c *fiber.Ctx) error {
	var req trackUsageRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	qc.ledger.TrackUsage(c.UserContext(), quota.Usage{
		Service:   req.Service,
		QuotaType: req.QuotaType,
		Count:     req.Count,
		Endpoint:  req.Endpoint,
		CallerID:  middleware.CallerID(c),
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// HandleStatus returns current-window usage for the service in the path.
func (qc *QuotaController) HandleStatus(c *fiber.Ctx) error {
	statuses, err := qc.ledger.GetQuotaStatus(c.UserContext(), c.Params("service"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"quotas": statuses})
}

// HandleStats returns usage totals over ?hours= (default 24).
func (qc *QuotaController) HandleStats(c *fiber.Ctx) error {
	hours, err := queryInt(c, "hours", defaultStatsHours)
	if err != nil {
		return respondError(c, err)
	}
	stats, err := qc.ledger.GetUsageStats(c.UserContext(), c.Params("service"), hours)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}

// HandleViolations returns the newest violations, at most ?limit= of them.
func (qc *QuotaController) HandleViolations(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", quota.DefaultViolationsLimit)
	if err != nil {
		return respondError(c, err)
	}
	violations, err := qc.ledger.GetQuotaViolations(c.UserContext(), c.Params("service"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"violations": violations})
}
