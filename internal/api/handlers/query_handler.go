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

type QueryHandler struct {
	pipeline *pipeline.Pipeline
	store    *sqlite.Client
}

func NewQueryHandler(p *pipeline.Pipeline, store *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		pipeline: p,
		store:    store,
	}
}

type queryRequest struct {
	Query       string  `json:"query"`
	UserID      string  `json:"user_id"`
	Persona     string  `json:"persona"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	rec, err := h.pipeline.Run(c.Context(), pipeline.Request{
		Prompt:      req.Query,
		UserID:      req.UserID,
		Persona:     req.Persona,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	return c.JSON(buildQueryResponse(rec))
}

// buildQueryResponse shapes one finished record for the frontend: the answer,
// boolean context-availability metadata, and only the encoded payloads the
// client can actually render.
func buildQueryResponse(rec *models.QueryRecord) fiber.Map {
	images := make([]fiber.Map, 0, len(rec.ImageContext))
	for _, item := range rec.ImageContext {
		if item.EncodedImage == "" {
			continue
		}
		images = append(images, fiber.Map{
			"encoded_image": item.EncodedImage,
		})
	}

	frames := make([]fiber.Map, 0, len(rec.VideoFrameContext))
	for _, item := range rec.VideoFrameContext {
		if item.EncodedFrame == "" {
			continue
		}
		frames = append(frames, fiber.Map{
			"encoded_frame": item.EncodedFrame,
			"sim":           item.Sim,
			"timestamp":     item.PosSec,
		})
	}

	metadata := fiber.Map{
		"timestamp":               rec.Timestamp.Format(time.RFC3339Nano),
		"has_doc_context":         len(rec.DocContext) > 0,
		"has_image_context":       len(rec.ImageContext) > 0,
		"has_tool_output":         rec.ToolOutput != "",
		"has_history_context":     len(rec.HistoryContext) > 0,
		"has_memory_context":      len(rec.MemoryContext) > 0,
		"has_chat_memory_context": len(rec.ChatMemoryContext) > 0,
	}

	return fiber.Map{
		"answer":              rec.Answer,
		"metadata":            metadata,
		"image_context":       images,
		"video_frame_context": frames,
		"follow_up_text":      rec.FollowUpRaw,
		"follow_up_questions": rec.FollowUpQuestions,
	}
}

func (h *QueryHandler) ListQueryRecords(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	limit := c.QueryInt("limit", 20)

	records, err := h.store.ListQueryRecords(c.Context(), userID, limit)
	if err != nil {
		logger.Error("Failed to list query records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list query records",
		})
	}

	return c.JSON(fiber.Map{
		"records": records,
		"count":   len(records),
	})
}

func (h *QueryHandler) GetQueryRecord(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	ts, err := time.Parse(time.RFC3339Nano, c.Query("timestamp"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp must be RFC3339",
		})
	}

	rec, err := h.store.GetQueryRecord(c.Context(), ts, userID)
	if err != nil {
		if err == sqlite.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Query record not found",
			})
		}
		logger.Error("Failed to fetch query record", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch query record",
		})
	}

	return c.JSON(rec)
}

func (h *QueryHandler) DeleteQueryRecord(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	ts, err := time.Parse(time.RFC3339Nano, c.Query("timestamp"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp must be RFC3339",
		})
	}

	if err := h.store.DeleteQueryRecord(c.Context(), ts, userID); err != nil {
		if err == sqlite.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Query record not found",
			})
		}
		logger.Error("Failed to delete query record", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete query record",
		})
	}

	return c.JSON(fiber.Map{
		"status": "deleted",
	})
}
