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

type PersonaHandler struct {
	store *sqlite.Client
}

func NewPersonaHandler(store *sqlite.Client) *PersonaHandler {
	return &PersonaHandler{store: store}
}

type personaRequest struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"persona_name"`
	InitialPrompt string  `json:"initial_prompt"`
	FinalPrompt   string  `json:"final_prompt"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float32 `json:"temperature"`
}

func (r personaRequest) toModel() *models.Persona {
	userID := r.UserID
	if userID == "" {
		userID = pipeline.DefaultUserID
	}
	return &models.Persona{
		UserID:        userID,
		Name:          r.Name,
		InitialPrompt: r.InitialPrompt,
		FinalPrompt:   r.FinalPrompt,
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temperature,
		Timestamp:     time.Now(),
	}
}

func (h *PersonaHandler) CreatePersona(c *fiber.Ctx) error {
	var req personaRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" || req.InitialPrompt == "" || req.FinalPrompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "persona_name, initial_prompt and final_prompt are required",
		})
	}

	p := req.toModel()
	if err := h.store.InsertPersona(c.Context(), p); err != nil {
		if err == sqlite.ErrConflict {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Persona already exists",
			})
		}
		logger.Error("Failed to create persona", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create persona",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *PersonaHandler) UpdatePersona(c *fiber.Ctx) error {
	var req personaRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	req.Name = c.Params("name")
	if req.Name == "" || req.InitialPrompt == "" || req.FinalPrompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "persona_name, initial_prompt and final_prompt are required",
		})
	}

	p := req.toModel()
	if err := h.store.UpdatePersona(c.Context(), p); err != nil {
		if err == sqlite.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Persona not found",
			})
		}
		logger.Error("Failed to update persona", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update persona",
		})
	}

	return c.JSON(p)
}

func (h *PersonaHandler) ListPersonas(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)

	personas, err := h.store.ListPersonas(c.Context(), userID)
	if err != nil {
		logger.Error("Failed to list personas", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list personas",
		})
	}

	return c.JSON(fiber.Map{
		"personas": personas,
		"count":    len(personas),
	})
}

func (h *PersonaHandler) DeletePersona(c *fiber.Ctx) error {
	userID := c.Query("user_id", pipeline.DefaultUserID)
	name := c.Params("name")

	if err := h.store.DeletePersona(c.Context(), userID, name); err != nil {
		if err == sqlite.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Persona not found",
			})
		}
		logger.Error("Failed to delete persona", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete persona",
		})
	}

	return c.JSON(fiber.Map{
		"status": "deleted",
	})
}
