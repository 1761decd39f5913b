package handlers

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"

	"harmonia/internal/database"
	"harmonia/internal/prompts"
	"harmonia/internal/search"
)

// AdminHandler serves operational endpoints: user inventory, deletion,
// backups and the prompt version registry.
type AdminHandler struct {
	router    *database.Router
	registry  *prompts.Registry
	engine    *search.Engine
	backupDir string
}

// NewAdminHandler creates a new admin handler. Backups land under backupDir.
func NewAdminHandler(router *database.Router, registry *prompts.Registry, engine *search.Engine, backupDir string) *AdminHandler {
	return &AdminHandler{router: router, registry: registry, engine: engine, backupDir: backupDir}
}

// Users lists every user database with its disk footprint.
func (h *AdminHandler) Users(c *fiber.Ctx) error {
	stats, err := h.router.Stats()
	if err != nil {
		return failFromError(c, err)
	}
	return ok(c, fiber.Map{
		"users":        stats,
		"user_count":   len(stats),
		"open_handles": h.router.OpenHandles(),
	})
}

// DeleteUser removes one user's database files entirely.
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	if !h.router.Exists(userID) {
		return fail(c, fiber.StatusNotFound, CodeNotFound, fmt.Sprintf("no database for user %q", userID))
	}

	if err := h.router.Delete(userID); err != nil {
		return failFromError(c, err)
	}
	h.engine.InvalidateCorpus(userID)
	log.Printf("🗑️ [ADMIN] Deleted all data for user %s", userID)
	return ok(c, fiber.Map{"user_id": userID, "deleted": true})
}

// BackupUser snapshots one user's database into the backup directory.
func (h *AdminHandler) BackupUser(c *fiber.Ctx) error {
	userID := c.Params("id")
	if err := database.ValidateUserID(userID); err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, err.Error())
	}
	if !h.router.Exists(userID) {
		return fail(c, fiber.StatusNotFound, CodeNotFound, fmt.Sprintf("no database for user %q", userID))
	}

	if err := os.MkdirAll(h.backupDir, 0o755); err != nil {
		return failFromError(c, err)
	}
	destPath := filepath.Join(h.backupDir,
		fmt.Sprintf("%s-%s.db", userID, time.Now().UTC().Format("20060102-150405")))
	if err := h.router.Backup(c.Context(), userID, destPath); err != nil {
		return failFromError(c, err)
	}
	log.Printf("💾 [ADMIN] Backed up user %s to %s", userID, destPath)
	return ok(c, fiber.Map{"user_id": userID, "backup_path": destPath})
}

// Prompts lists every registered prompt template with its versions.
func (h *AdminHandler) Prompts(c *fiber.Ctx) error {
	templates := fiber.Map{}
	for _, name := range h.registry.Names() {
		versions := h.registry.List(name)
		entry := fiber.Map{"versions": versions}
		if active := h.registry.Active(name); active != nil {
			entry["active_version"] = active.Version
		}
		templates[name] = entry
	}
	return ok(c, fiber.Map{"templates": templates})
}
