package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sutto4/ccc-sub004/internal/pkg/billing"
	"github.com/sutto4/ccc-sub004/internal/pkg/statistics"
)

const (
	webhookSignatureHeader = "X-Signature"
	webhookTimeout         = 15 * time.Second
)

// BillingController receives subscription webhooks from the billing provider.
type BillingController struct {
	svc    *billing.Service
	secret string
	stats  *statistics.Service
}

func NewBillingController(svc *billing.Service, secret string, stats *statistics.Service) *BillingController {
	return &BillingController{svc: svc, secret: secret, stats: stats}
}

// HandleWebhook verifies, deduplicates and applies one subscription event.
// Invalid signatures are persisted before being rejected.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	provider := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	signature := strings.TrimSpace(c.Get(webhookSignatureHeader))
	signatureValid := billing.VerifyWebhookSignature(rawBody, signature, bc.secret)

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	result, duplicate, err := bc.svc.ProcessWebhook(ctx, provider, rawBody, signatureValid)
	if errors.Is(err, billing.ErrInvalidSignature) {
		log.Warnf("[Billing] Rejected %s webhook with invalid signature", provider)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": err.Error()})
	}
	if err != nil {
		return respondError(c, err)
	}
	if duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if bc.stats != nil {
		bc.stats.Invalidate(ctx)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "result": result})
}
