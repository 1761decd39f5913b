package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"harmonia/internal/database"
	"harmonia/internal/llm"
	"harmonia/internal/processing"
	"harmonia/internal/search"
)

// Error codes surfaced in the response envelope.
const (
	CodeValidation      = "validation"
	CodeNotFound        = "not_found"
	CodeDuplicate       = "duplicate"
	CodeConflictUser    = "conflict_user_required"
	CodeLLMUnavailable  = "llm_unavailable"
	CodeLLMModelMissing = "llm_model_missing"
	CodeExtractionParse = "extraction_parse_error"
	CodeInternal        = "internal_error"
)

func ok(c *fiber.Ctx, payload fiber.Map) error {
	payload["success"] = true
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return c.JSON(payload)
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success":   false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// failFromError maps core errors onto the HTTP error taxonomy.
func failFromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, database.ErrInvalidUser):
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, database.ErrNotFound):
		return fail(c, fiber.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, database.ErrDuplicate):
		return fail(c, fiber.StatusConflict, CodeDuplicate, err.Error())
	case errors.Is(err, search.ErrInvalidQuery):
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, llm.ErrModelNotFound):
		return fail(c, fiber.StatusServiceUnavailable, CodeLLMModelMissing, err.Error())
	case errors.Is(err, llm.ErrUnavailable):
		return fail(c, fiber.StatusServiceUnavailable, CodeLLMUnavailable, err.Error())
	case errors.Is(err, processing.ErrParse):
		return fail(c, fiber.StatusUnprocessableEntity, CodeExtractionParse, err.Error())
	default:
		return fail(c, fiber.StatusInternalServerError, CodeInternal, err.Error())
	}
}
