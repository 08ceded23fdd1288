// Package experiments runs ad-hoc prompt trials outside the query pipeline,
// recording the response and its latency/size stats for comparison.
package experiments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/pkg/logger"
)

type LLM interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Store interface {
	InsertExperiment(ctx context.Context, e *models.PromptExperiment) error
	ListExperiments(ctx context.Context, userID string, limit int) ([]models.PromptExperiment, error)
}

type Runner struct {
	llm      LLM
	store    Store
	model    string
	provider string
	now      func() time.Time
}

func NewRunner(llmClient LLM, store Store, model, provider string) *Runner {
	return &Runner{
		llm:      llmClient,
		store:    store,
		model:    model,
		provider: provider,
		now:      time.Now,
	}
}

type RunRequest struct {
	Task         string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	UserID       string
}

// Run executes one prompt trial and persists it. LLM failures are recorded
// on the experiment row rather than dropped.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*models.PromptExperiment, error) {
	if req.UserPrompt == "" {
		return nil, fmt.Errorf("user prompt is required")
	}

	exp := &models.PromptExperiment{
		ID:           uuid.NewString(),
		Task:         req.Task,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Model:        r.model,
		Provider:     r.provider,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Timestamp:    r.now(),
		UserID:       req.UserID,
	}

	start := r.now()
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     []models.Message{{Role: "user", Content: req.UserPrompt}},
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	exp.ResponseTimeMS = float64(r.now().Sub(start)) / float64(time.Millisecond)

	if err != nil {
		exp.Error = err.Error()
		logger.Warn("Prompt experiment failed", zap.String("id", exp.ID), zap.Error(err))
	} else {
		exp.Response = resp.Content
		exp.WordCount = len(strings.Fields(resp.Content))
		exp.CharCount = len(resp.Content)
	}

	if err := r.store.InsertExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to persist experiment: %w", err)
	}

	logger.Info("Prompt experiment recorded",
		zap.String("id", exp.ID),
		zap.Float64("response_time_ms", exp.ResponseTimeMS),
		zap.Int("word_count", exp.WordCount),
	)
	return exp, nil
}

func (r *Runner) List(ctx context.Context, userID string, limit int) ([]models.PromptExperiment, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.store.ListExperiments(ctx, userID, limit)
}
