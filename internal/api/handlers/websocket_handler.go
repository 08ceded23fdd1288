package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/metrics"
	"github.com/modalbot/backend/internal/pipeline"
	"github.com/modalbot/backend/pkg/logger"
)

type WebSocketHandler struct {
	pipeline *pipeline.Pipeline
}

func NewWebSocketHandler(p *pipeline.Pipeline) *WebSocketHandler {
	return &WebSocketHandler{pipeline: p}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	metrics.WebsocketConnections.Inc()

	defer func() {
		c.Close()
		metrics.WebsocketConnections.Dec()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			UserID  string `json:"user_id"`
			Persona string `json:"persona"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Error("Failed to read WebSocket message", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		if msg.Content == "" {
			h.sendError(c, "Query content is required")
			continue
		}

		logger.Info("Processing WebSocket query", zap.String("query", msg.Content))

		err = h.streamResponse(c, msg.Content, msg.UserID, msg.Persona)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, queryText, userID, persona string) error {
	ctx := context.Background()

	h.sendChunk(c, "status", "Processing query...")

	rec, err := h.pipeline.Run(ctx, pipeline.Request{
		Prompt:  queryText,
		UserID:  userID,
		Persona: persona,
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(rec.Answer)
	for i, word := range words {
		chunk := word
		if word != "\n" && i < len(words)-1 {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(c, rec.Answer, buildQueryResponse(rec))
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, answer string, response map[string]interface{}) error {
	msg := map[string]interface{}{
		"type":                "complete",
		"answer":              answer,
		"metadata":            response["metadata"],
		"image_context":       response["image_context"],
		"video_frame_context": response["video_frame_context"],
		"follow_up_text":      response["follow_up_text"],
		"follow_up_questions": response["follow_up_questions"],
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
