package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/pkg/circuitbreaker"
	"github.com/modalbot/backend/pkg/logger"
	"github.com/modalbot/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	followUpModel  string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.Breaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	Messages     []models.Message
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ToolCall is one tool invocation the model asked for.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

type ToolSelection struct {
	Content string
	Calls   []ToolCall
	Raw     string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolDefinition describes one callable tool for the selection call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

func NewClient(apiKey, baseURL, model, followUpModel, embeddingModel string, temperature float32, maxTokens int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Classifier:     isTransportTransient,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("follow_up_model", followUpModel),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		followUpModel:  followUpModel,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// isTransportTransient marks rate limits, server errors and transport drops
// as retryable.
func isTransportTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}

// Complete runs a chat completion over assembled messages. Text-only history
// turns map to plain content; the final user turn may carry multimodal
// blocks, which are sent as multi-part content.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: c.effTemperature(req.Temperature),
				MaxTokens:   c.effMaxTokens(req.MaxTokens),
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteWithTools asks the model to pick among the given tools. Tool choice
// is forced, so the response always names at least one call unless the model
// itself misbehaves.
func (c *Client) CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []ToolDefinition, temperature float32, maxTokens int) (*ToolSelection, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	defs := make([]openai.Tool, len(tools))
	for i, t := range tools {
		defs[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}

	var result *ToolSelection

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Tools:       defs,
				ToolChoice:  "required",
				Temperature: c.effTemperature(temperature),
				MaxTokens:   c.effMaxTokens(maxTokens),
			})
			if err != nil {
				return fmt.Errorf("failed to create tool selection: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("tool selection returned no choices")
			}

			choice := resp.Choices[0].Message
			sel := &ToolSelection{Content: choice.Content}

			for _, tc := range choice.ToolCalls {
				call := ToolCall{Name: tc.Function.Name}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments); err != nil {
						logger.Warn("Tool call arguments not parseable",
							zap.String("tool", tc.Function.Name),
							zap.Error(err),
						)
					}
				}
				sel.Calls = append(sel.Calls, call)
			}

			if raw, err := json.Marshal(choice); err == nil {
				sel.Raw = string(raw)
			}

			result = sel
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteJSON runs a completion constrained to the given JSON schema and
// returns the raw JSON text.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema json.Marshaler, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	model := c.followUpModel
	if model == "" {
		model = c.model
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}

	var result string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:     model,
				Messages:  messages,
				MaxTokens: c.effMaxTokens(maxTokens),
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
					JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
						Name:   schemaName,
						Schema: schema,
						Strict: true,
					},
				},
			})
			if err != nil {
				return fmt.Errorf("failed to create structured completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("structured completion returned no choices")
			}
			result = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Model: openai.EmbeddingModel(c.embeddingModel),
				Input: []string{text},
			})
			if err != nil {
				return fmt.Errorf("failed to create embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response is empty")
			}
			embedding = resp.Data[0].Embedding
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return embedding, nil
}

func (c *Client) effTemperature(t float32) float32 {
	if t == 0 {
		return c.temperature
	}
	return t
}

func (c *Client) effMaxTokens(n int) int {
	if n == 0 {
		return c.maxTokens
	}
	return n
}

func toOpenAIMessage(m models.Message) openai.ChatCompletionMessage {
	if len(m.Blocks) == 0 {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case models.BlockTypeText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: b.Text,
			})
		case models.BlockTypeImage, models.BlockTypeVideoFrame:
			if b.Source == nil {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", b.Source.MediaType, b.Source.Data),
				},
			})
		}
	}

	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}
