package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"harmonia/internal/database"
	"harmonia/internal/models"
	"harmonia/internal/processing"
	"harmonia/internal/search"
)

// MemoryHandler serves the /memory routes.
type MemoryHandler struct {
	manager *processing.Manager
	engine  *search.Engine
	router  *database.Router
}

// NewMemoryHandler creates a new memory handler.
func NewMemoryHandler(manager *processing.Manager, engine *search.Engine, router *database.Router) *MemoryHandler {
	return &MemoryHandler{manager: manager, engine: engine, router: router}
}

type storeRequest struct {
	UserID      string                 `json:"user_id"`
	SessionID   string                 `json:"session_id"`
	Message     string                 `json:"message"`
	Metadata    map[string]interface{} `json:"metadata"`
	Mode        string                 `json:"mode"`
	MemoryTypes []string               `json:"memory_types"`
	Timestamp   string                 `json:"timestamp"`
}

// Store ingests one message through extraction and conflict resolution.
func (h *MemoryHandler) Store(c *fiber.Ctx) error {
	var req storeRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "invalid JSON body: "+err.Error())
	}
	if err := database.ValidateUserID(req.UserID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	if req.Message == "" {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "message is required")
	}

	mode := models.ExtractionMode(req.Mode)
	switch mode {
	case "", models.ExtractionStrict, models.ExtractionModerate, models.ExtractionPermissive:
	default:
		return fail(c, fiber.StatusBadRequest, CodeValidation, fmt.Sprintf("unknown extraction mode %q", req.Mode))
	}

	var memoryTypes []models.MemoryType
	for _, raw := range req.MemoryTypes {
		mt, err := models.ParseMemoryType(raw)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
		}
		memoryTypes = append(memoryTypes, mt)
	}

	var timestamp time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, CodeValidation, "timestamp must be RFC3339")
		}
		timestamp = parsed
	}

	outcome, err := h.manager.StoreFromMessage(c.Context(), &processing.StoreRequest{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Message:     req.Message,
		Metadata:    req.Metadata,
		Mode:        mode,
		MemoryTypes: memoryTypes,
		Timestamp:   timestamp,
	})
	if err != nil {
		return failFromError(c, err)
	}

	payload := fiber.Map{
		"action":             outcome.Action,
		"memory":             outcome.Memory,
		"stored_memory_ids":  outcome.StoredMemoryIDs,
		"memories_processed": outcome.MemoriesProcessed,
		"memories_stored":    outcome.MemoriesStored,
		"conflicts_resolved": outcome.ConflictsResolved,
		"processing_time_ms": outcome.ProcessingTimeMS,
		"metadata":           outcome.Metadata,
	}
	if outcome.Action == models.StorageConflictDetected {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":   false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"error": fiber.Map{
				"code":    CodeConflictUser,
				"message": "conflicting memories require user resolution",
			},
			"conflicts_resolved": outcome.ConflictsResolved,
			"results":            outcome.Results,
		})
	}
	return ok(c, payload)
}

// Search runs a ranked full-text search for one user.
func (h *MemoryHandler) Search(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}

	filter, err := parseFilter(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	opts := parseOptions(c)

	results, err := h.engine.Search(c.Context(), userID, c.Query("query"), filter, opts)
	if err != nil {
		return failFromError(c, err)
	}
	return ok(c, resultsPayload(results))
}

// List returns memories without a search query, filtered and sorted.
func (h *MemoryHandler) List(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}

	filter, err := parseFilter(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	opts := parseOptions(c)

	results, err := h.engine.List(c.Context(), userID, filter, opts)
	if err != nil {
		return failFromError(c, err)
	}
	return ok(c, resultsPayload(results))
}

// Export renders one user's memories in the requested format.
func (h *MemoryHandler) Export(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}

	format, err := search.ParseFormat(c.Query("format", "json"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	filter, err := parseFilter(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	includeMetadata := c.QueryBool("include_metadata", false)

	export, err := h.engine.Export(c.Context(), userID, format, filter, includeMetadata)
	if err != nil {
		return failFromError(c, err)
	}
	return ok(c, fiber.Map{
		"data":              export.Data,
		"format":            export.Format,
		"memory_count":      export.MemoryCount,
		"export_date":       export.ExportDate,
		"execution_time_ms": export.ExecutionTimeMS,
		"include_metadata":  export.IncludeMetadata,
	})
}

// Get fetches one active memory by id.
func (h *MemoryHandler) Get(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}

	store, err := h.router.Store(userID)
	if err != nil {
		return failFromError(c, err)
	}
	memory, err := store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return failFromError(c, err)
	}
	return ok(c, fiber.Map{"memory": memory})
}

// Delete soft-deletes one memory by id.
func (h *MemoryHandler) Delete(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}

	store, err := h.router.Store(userID)
	if err != nil {
		return failFromError(c, err)
	}
	memoryID := c.Params("id")
	if err := store.Delete(c.Context(), memoryID, true); err != nil {
		return failFromError(c, err)
	}
	h.engine.InvalidateCorpus(userID)
	return ok(c, fiber.Map{"memory_id": memoryID, "deleted": true})
}

func parseFilter(c *fiber.Ctx) (*search.Filter, error) {
	filter := &search.Filter{}

	if raw := c.Query("category"); raw != "" {
		mt, err := models.ParseMemoryType(raw)
		if err != nil {
			return nil, err
		}
		filter.Category = mt
	}
	if raw := c.Query("from_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid from_date %q", raw)
		}
		filter.FromDate = &t
	}
	if raw := c.Query("to_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid to_date %q", raw)
		}
		filter.ToDate = &t
	}
	if raw := c.Query("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("invalid min_confidence %q", raw)
		}
		filter.MinConfidence = &v
	}
	if raw := c.Query("max_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("invalid max_confidence %q", raw)
		}
		filter.MaxConfidence = &v
	}
	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func parseOptions(c *fiber.Ctx) *search.Options {
	return &search.Options{
		Limit:       c.QueryInt("limit", 0),
		Offset:      c.QueryInt("offset", 0),
		SortBy:      search.SortBy(c.Query("sort_by")),
		SortOrder:   search.SortOrder(c.Query("sort_order")),
		BoostRecent: c.QueryBool("boost_recent", true),
	}
}

func resultsPayload(results *search.Results) fiber.Map {
	return fiber.Map{
		"results":           results.Results,
		"total_count":       results.TotalCount,
		"query":             results.Query,
		"limit":             results.Limit,
		"offset":            results.Offset,
		"has_more":          results.HasMore,
		"sort_by":           results.SortBy,
		"sort_order":        results.SortOrder,
		"execution_time_ms": results.ExecutionTimeMS,
	}
}
