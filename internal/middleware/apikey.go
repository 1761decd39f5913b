package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"harmonia/internal/config"
)

// APIKeyMiddleware validates the X-API-Key header (or a Bearer token) against
// the configured key set. When key auth is disabled it passes everything
// through untouched.
func APIKeyMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.APIKeyRequired {
			return c.Next()
		}

		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			if auth := c.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "authentication_error",
					"message": "Missing API key. Include X-API-Key header or Bearer token.",
				},
			})
		}

		if !keyAllowed(apiKey, cfg.APIKeys) {
			log.Printf("❌ [APIKEY-AUTH] Invalid key attempt from %s", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "authentication_error",
					"message": "Invalid API key",
				},
			})
		}

		c.Locals("api_key", apiKey)
		c.Locals("auth_type", "api_key")
		return c.Next()
	}
}

func keyAllowed(candidate string, keys []string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
