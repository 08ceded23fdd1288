package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/experiments"
	"github.com/modalbot/backend/internal/pipeline"
	"github.com/modalbot/backend/pkg/logger"
)

type ExperimentHandler struct {
	runner *experiments.Runner
}

func NewExperimentHandler(runner *experiments.Runner) *ExperimentHandler {
	return &ExperimentHandler{runner: runner}
}

func (h *ExperimentHandler) RunExperiment(c *fiber.Ctx) error {
	var req struct {
		Task         string  `json:"task"`
		SystemPrompt string  `json:"system_prompt"`
		UserPrompt   string  `json:"user_prompt"`
		Temperature  float32 `json:"temperature"`
		MaxTokens    int     `json:"max_tokens"`
		UserID       string  `json:"user_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.UserPrompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_prompt is required",
		})
	}
	if req.UserID == "" {
		req.UserID = pipeline.DefaultUserID
	}

	exp, err := h.runner.Run(c.Context(), experiments.RunRequest{
		Task:         req.Task,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		UserID:       req.UserID,
	})
	if err != nil {
		logger.Error("Failed to run prompt experiment", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run prompt experiment",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(exp)
}

func (h *ExperimentHandler) ListExperiments(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	limit := c.QueryInt("limit", 50)

	exps, err := h.runner.List(c.Context(), userID, limit)
	if err != nil {
		logger.Error("Failed to list prompt experiments", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list prompt experiments",
		})
	}

	return c.JSON(fiber.Map{
		"experiments": exps,
		"count":       len(exps),
	})
}
