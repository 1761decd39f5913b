package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"harmonia/internal/config"
)

// rateKey identifies the caller for rate accounting: the API key when one
// authenticated, otherwise the client IP.
func rateKey(c *fiber.Ctx) string {
	if key, ok := c.Locals("api_key").(string); ok && key != "" {
		return key
	}
	return "ip:" + c.IP()
}

// MinuteRateLimiter enforces the per-minute request budget. Disabled entirely
// when rate limiting is off in the config.
func MinuteRateLimiter(cfg *config.Config) fiber.Handler {
	if !cfg.RateLimitEnabled {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        cfg.RequestsPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "minute:" + rateKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Per-minute limit reached for %s on %s", rateKey(c), c.Path())
			return limitReached(c, 60)
		},
	})
}

// HourRateLimiter enforces the per-hour request budget on top of the
// per-minute one.
func HourRateLimiter(cfg *config.Config) fiber.Handler {
	if !cfg.RateLimitEnabled {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        cfg.RequestsPerHour,
		Expiration: time.Hour,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "hour:" + rateKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Per-hour limit reached for %s on %s", rateKey(c), c.Path())
			return limitReached(c, 3600)
		},
	})
}

func limitReached(c *fiber.Ctx, retryAfterSeconds int) error {
	c.Set("Retry-After", time.Now().Add(time.Duration(retryAfterSeconds)*time.Second).UTC().Format(time.RFC1123))
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    "rate_limited",
			"message": "Too many requests. Please slow down.",
		},
		"retry_after": retryAfterSeconds,
	})
}
