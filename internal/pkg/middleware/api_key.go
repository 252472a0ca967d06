package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// LocalCallerID holds a short, non-reversible id of the token that
// authenticated the request.
const LocalCallerID = "caller_id"

// APIKeyAuthMiddleware authenticates requests carrying one of the configured
// API tokens in X-API-Key or an Authorization bearer header.
func APIKeyAuthMiddleware(tokens []string) fiber.Handler {
	digests := make([][32]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			digests = append(digests, sha256.Sum256([]byte(t)))
		}
	}
	if len(digests) == 0 {
		log.Warn("[Auth] No API tokens configured, every API request will be rejected")
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		sum := sha256.Sum256([]byte(apiKey))
		matched := 0
		for i := range digests {
			matched |= subtle.ConstantTimeCompare(sum[:], digests[i][:])
		}
		if matched != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		c.Locals(LocalCallerID, callerID(sum))
		return c.Next()
	}
}

// CallerID returns the id stored by APIKeyAuthMiddleware, or "".
func CallerID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalCallerID).(string)
	return id
}

func callerID(sum [32]byte) string {
	return "tok_" + hex.EncodeToString(sum[:8])
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
