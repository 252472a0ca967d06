package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

var validate = validator.New()

// bindJSON parses the request body into out and validates its struct tags.
func bindJSON(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: malformed request body", errs.ErrInvalidInput)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	return nil
}

// queryInt reads a positive integer query parameter, falling back to def
// when it is absent.
func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errs.ErrInvalidInput, key)
	}
	return n, nil
}

// respondError maps the errs taxonomy onto HTTP statuses and the
// {"error", "message"} body every API endpoint uses.
func respondError(c *fiber.Ctx, err error) error {
	var capErr *errs.CapacityError
	switch {
	case errors.As(err, &capErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":        "capacity_exceeded",
			"message":      err.Error(),
			"used_servers": capErr.Used,
			"max_servers":  capErr.Max,
		})
	case errors.Is(err, errs.ErrCapacityExceeded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "capacity_exceeded", "message": err.Error()})
	case errors.Is(err, errs.ErrAlreadyAllocated):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_allocated", "message": err.Error()})
	case errors.Is(err, errs.ErrSubscriptionCancelled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "subscription_cancelled", "message": err.Error()})
	case errors.Is(err, errs.ErrPremiumRequired):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "premium_required", "message": err.Error()})
	case errs.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, errs.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	case errs.IsRetryable(err):
		c.Set(fiber.HeaderRetryAfter, "1")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "conflict", "message": "Concurrent modification, please retry"})
	}

	log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Internal server error"})
}
