package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modalbot/backend/internal/tools"
)

// ToolsHandler lists the registered tools with the same schemas the
// selection call sees.
type ToolsHandler struct {
	registry *tools.Registry
}

func NewToolsHandler(registry *tools.Registry) *ToolsHandler {
	return &ToolsHandler{registry: registry}
}

func (h *ToolsHandler) ListTools(c *fiber.Ctx) error {
	defs := h.registry.Definitions()

	out := make([]fiber.Map, 0, len(defs))
	for _, d := range defs {
		out = append(out, fiber.Map{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		})
	}

	return c.JSON(fiber.Map{
		"tools": out,
		"count": len(out),
	})
}
