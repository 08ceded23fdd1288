package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/pipeline"
	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/internal/storage/sqlite"
	"github.com/modalbot/backend/pkg/logger"
)

type MemoryHandler struct {
	store *sqlite.Client
}

func NewMemoryHandler(store *sqlite.Client) *MemoryHandler {
	return &MemoryHandler{store: store}
}

func (h *MemoryHandler) AddMemory(c *fiber.Ctx) error {
	var req struct {
		Content      string `json:"content"`
		Type         string `json:"type"`
		Language     string `json:"language"`
		ContextQuery string `json:"context_query"`
		UserID       string `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Content is required",
		})
	}
	if req.Type == "" {
		req.Type = "note"
	}
	if req.UserID == "" {
		req.UserID = pipeline.DefaultUserID
	}

	item := &models.MemoryItem{
		Content:      req.Content,
		Type:         req.Type,
		Language:     req.Language,
		ContextQuery: req.ContextQuery,
		Timestamp:    time.Now(),
		UserID:       req.UserID,
	}

	if err := h.store.InsertMemory(c.Context(), item); err != nil {
		logger.Error("Failed to store memory item", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store memory item",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

func (h *MemoryHandler) ListMemory(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)

	items, err := h.store.ListMemory(c.Context(), userID)
	if err != nil {
		logger.Error("Failed to list memory items", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list memory items",
		})
	}

	return c.JSON(fiber.Map{
		"items": items,
		"count": len(items),
	})
}

func (h *MemoryHandler) DeleteMemory(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	ts, err := time.Parse(time.RFC3339Nano, c.Query("timestamp"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp must be RFC3339",
		})
	}

	if err := h.store.DeleteMemory(c.Context(), ts, userID); err != nil {
		if err == sqlite.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Memory item not found",
			})
		}
		logger.Error("Failed to delete memory item", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete memory item",
		})
	}

	return c.JSON(fiber.Map{
		"status": "deleted",
	})
}
