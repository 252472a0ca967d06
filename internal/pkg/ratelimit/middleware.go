package ratelimit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// KeyFunc derives the limiter key for a request.
type KeyFunc func(c *fiber.Ctx) string

// RouteIPKey keys on route path plus caller IP.
func RouteIPKey(c *fiber.Ctx) string {
	return c.Route().Path + "|" + c.IP()
}

// RouteIPParamKey keys on route path, caller IP and a route parameter such as a guild id.
func RouteIPParamKey(param string) KeyFunc {
	return func(c *fiber.Ctx) string {
		return c.Route().Path + "|" + c.IP() + "|" + c.Params(param)
	}
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. Limiter errors fail open.
func Middleware(limiter Limiter, key KeyFunc) fiber.Handler {
	if key == nil {
		key = RouteIPKey
	}
	return func(c *fiber.Ctx) error {
		res, err := limiter.Check(c.UserContext(), key(c))
		if err != nil {
			log.Warnf("[RateLimit] check failed, allowing request: %v", err)
			return c.Next()
		}
		if !res.Allowed {
			retryAfterMs := res.RetryAfterMs()
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt((retryAfterMs+999)/1000, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":          "rate limit exceeded",
				"retry_after_ms": retryAfterMs,
			})
		}
		return c.Next()
	}
}
