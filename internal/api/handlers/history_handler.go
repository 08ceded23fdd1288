package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/pipeline"
	"github.com/modalbot/backend/internal/storage/sqlite"
	"github.com/modalbot/backend/pkg/logger"
)

type HistoryHandler struct {
	store *sqlite.Client
}

func NewHistoryHandler(store *sqlite.Client) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)

	turns, err := h.store.ListHistory(c.Context(), userID)
	if err != nil {
		logger.Error("Failed to list chat history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list chat history",
		})
	}

	return c.JSON(fiber.Map{
		"history": turns,
		"count":   len(turns),
	})
}

func (h *HistoryHandler) DeleteTurn(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	ts, err := time.Parse(time.RFC3339Nano, c.Query("timestamp"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp must be RFC3339",
		})
	}

	if err := h.store.DeleteChatTurn(c.Context(), ts, userID); err != nil {
		if err == sqlite.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Chat turn not found",
			})
		}
		logger.Error("Failed to delete chat turn", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete chat turn",
		})
	}

	return c.JSON(fiber.Map{
		"status": "deleted",
	})
}
