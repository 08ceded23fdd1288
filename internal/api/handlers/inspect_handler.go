package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modalbot/backend/internal/inspect"
)

// InspectHandler exposes the reconstructed dataflow graph of the query
// pipeline: every table and derived column, with view, dependency and
// query edges, plus recent per-field error counts.
type InspectHandler struct {
	builder *inspect.Builder
}

func NewInspectHandler(builder *inspect.Builder) *InspectHandler {
	return &InspectHandler{builder: builder}
}

func (h *InspectHandler) GetPipelineGraph(c *fiber.Ctx) error {
	graph := h.builder.Build(c.Context())
	return c.JSON(graph)
}
