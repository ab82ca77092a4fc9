package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/pkg/logger"
)

type EngineStatus interface {
	Ready() bool
	Stats() query.Stats
	ClearCache()
}

// ArtifactCache is implemented by loaders that keep a remote cache.
type ArtifactCache interface {
	ClearCache(ctx context.Context) error
	CacheStatus(ctx context.Context) map[string]string
}

type AdminHandler struct {
	engine    EngineStatus
	artifacts ArtifactCache
}

// NewAdminHandler builds the health and cache handler. artifacts may be nil.
func NewAdminHandler(engine EngineStatus, artifacts ArtifactCache) *AdminHandler {
	return &AdminHandler{engine: engine, artifacts: artifacts}
}

func (h *AdminHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *AdminHandler) Ready(c *fiber.Ctx) error {
	stats := h.engine.Stats()
	if !h.engine.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "initializing",
			"stats":  stats,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"stats":  stats,
	})
}

func (h *AdminHandler) CacheStatus(c *fiber.Ctx) error {
	resp := fiber.Map{"engine": h.engine.Stats()}
	if h.artifacts != nil {
		resp["artifacts"] = h.artifacts.CacheStatus(c.Context())
	}
	return c.JSON(resp)
}

// ClearCache drops cached results and, with a caching loader, cached
// artifacts. Loaded tables are kept.
func (h *AdminHandler) ClearCache(c *fiber.Ctx) error {
	h.engine.ClearCache()
	if h.artifacts != nil {
		if err := h.artifacts.ClearCache(c.Context()); err != nil {
			logger.Error("Failed to clear artifact cache", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to clear artifact cache",
			})
		}
	}
	logger.Info("Caches cleared")
	return c.JSON(fiber.Map{"message": "Caches cleared"})
}
