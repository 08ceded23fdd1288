// Package pipeline drives one submitted query through its fixed stage graph:
// tool selection, tool execution, the concurrent retrieval fan-out, context
// fusion, answer generation and follow-up generation, then persists the
// finished record.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modalbot/backend/internal/fusion"
	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/internal/metrics"
	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/pkg/config"
	"github.com/modalbot/backend/pkg/logger"
)

// AnswerSentinel is returned to the caller when answer generation could not
// resolve.
const AnswerSentinel = "Error: Answer not generated."

// DefaultUserID owns records submitted without an explicit user.
const DefaultUserID = "local_user"

type LLM interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteWithTools(ctx context.Context, systemPrompt, userPrompt string, tools []llm.ToolDefinition, temperature float32, maxTokens int) (*llm.ToolSelection, error)
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt, schemaName string, schema json.Marshaler, maxTokens int) (string, error)
}

type ToolRunner interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, calls []llm.ToolCall, owner string) string
}

type Retriever interface {
	SearchDocuments(ctx context.Context, prompt, owner string) ([]models.DocumentHit, error)
	SearchImages(ctx context.Context, prompt, owner string) ([]models.ImageHit, error)
	SearchVideoFrames(ctx context.Context, prompt, owner string) ([]models.FrameHit, error)
	SearchMemory(ctx context.Context, prompt, owner string) ([]models.MemoryHit, error)
	SearchChatHistory(ctx context.Context, prompt, owner string) ([]models.ChatHit, error)
}

type Store interface {
	InsertQueryRecord(ctx context.Context, rec *models.QueryRecord) error
	InsertChatTurn(ctx context.Context, turn *models.ChatTurn) error
	RecentHistory(ctx context.Context, userID string, limit int) ([]models.ChatTurn, error)
	GetPersona(ctx context.Context, userID, name string) (*models.Persona, error)
}

// Request is one query submission.
type Request struct {
	Prompt              string
	UserID              string
	Persona             string
	InitialSystemPrompt string
	FinalSystemPrompt   string
	MaxTokens           int
	Temperature         float32
}

type Pipeline struct {
	llm       LLM
	tools     ToolRunner
	retriever Retriever
	store     Store
	llmCfg    config.LLMConfig
	retrCfg   config.RetrievalConfig
	now       func() time.Time
}

func New(llmClient LLM, tools ToolRunner, retriever Retriever, store Store, llmCfg config.LLMConfig, retrCfg config.RetrievalConfig) *Pipeline {
	return &Pipeline{
		llm:       llmClient,
		tools:     tools,
		retriever: retriever,
		store:     store,
		llmCfg:    llmCfg,
		retrCfg:   retrCfg,
		now:       time.Now,
	}
}

// Run drives one record to a terminal state and persists it. The returned
// record always carries either an answer or the sentinel; the error return
// is reserved for persistence failures.
func (p *Pipeline) Run(ctx context.Context, req Request) (*models.QueryRecord, error) {
	start := p.now()

	rec := p.newRecord(ctx, req)

	fatal := p.compute(ctx, rec)

	if rec.Answer == "" {
		rec.Answer = AnswerSentinel
	}

	if err := p.store.InsertQueryRecord(ctx, rec); err != nil {
		metrics.QueryTotal.WithLabelValues("persist_error").Inc()
		return rec, fmt.Errorf("failed to persist query record: %w", err)
	}

	p.recordHistory(ctx, rec)

	status := "ok"
	if fatal {
		status = "error"
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.WithLabelValues(status).Observe(p.now().Sub(start).Seconds())

	for field := range rec.FieldErrors {
		metrics.FieldErrorsTotal.WithLabelValues(field).Inc()
	}

	logger.Info("Query pipeline finished",
		zap.String("user_id", rec.UserID),
		zap.String("status", status),
		zap.Duration("elapsed", p.now().Sub(start)),
		zap.Int("field_errors", len(rec.FieldErrors)),
	)

	return rec, nil
}

func (p *Pipeline) newRecord(ctx context.Context, req Request) *models.QueryRecord {
	rec := &models.QueryRecord{
		Timestamp:           p.now(),
		UserID:              req.UserID,
		Prompt:              req.Prompt,
		InitialSystemPrompt: req.InitialSystemPrompt,
		FinalSystemPrompt:   req.FinalSystemPrompt,
		MaxTokens:           req.MaxTokens,
		Temperature:         req.Temperature,
		FieldErrors:         make(map[string]string),
	}

	if rec.UserID == "" {
		rec.UserID = DefaultUserID
	}
	if rec.InitialSystemPrompt == "" {
		rec.InitialSystemPrompt = p.llmCfg.InitialSystemPrompt
	}
	if rec.FinalSystemPrompt == "" {
		rec.FinalSystemPrompt = p.llmCfg.FinalSystemPrompt
	}
	if rec.MaxTokens == 0 {
		rec.MaxTokens = p.llmCfg.MaxTokens
	}
	if rec.Temperature == 0 {
		rec.Temperature = p.llmCfg.Temperature
	}

	if req.Persona != "" {
		persona, err := p.store.GetPersona(ctx, rec.UserID, req.Persona)
		if err != nil {
			logger.Warn("Persona lookup failed, using defaults",
				zap.String("persona", req.Persona),
				zap.Error(err),
			)
		} else {
			if persona.InitialPrompt != "" {
				rec.InitialSystemPrompt = persona.InitialPrompt
			}
			if persona.FinalPrompt != "" {
				rec.FinalSystemPrompt = persona.FinalPrompt
			}
			if persona.MaxTokens > 0 {
				rec.MaxTokens = persona.MaxTokens
			}
			if persona.Temperature > 0 {
				rec.Temperature = persona.Temperature
			}
		}
	}

	return rec
}

// compute fills the record's derived fields stage by stage. It reports
// whether a fatal stage failed; non-fatal failures land in FieldErrors and
// leave the field at its zero value.
func (p *Pipeline) compute(ctx context.Context, rec *models.QueryRecord) (fatal bool) {
	// stage 1: tool selection
	selection, err := p.stageToolSelection(ctx, rec)
	if err != nil {
		rec.FieldErrors["initial_response"] = fmt.Sprintf("Error: %v", err)
		logger.Error("Tool selection failed", zap.Error(err))
		return true
	}
	rec.InitialResponse = selection.Raw

	// stage 2: tool execution
	p.stageToolExecution(ctx, rec, selection.Calls)

	// stages 3a-3e and 4: retrieval fan-out plus recent history
	p.stageRetrieval(ctx, rec)

	// stage 5: text fusion
	stage5 := p.now()
	rec.ContextSummary = fusion.BuildContextText(
		rec.Prompt, rec.ToolOutput, rec.DocContext, rec.MemoryContext, rec.ChatMemoryContext)
	metrics.StageDuration.WithLabelValues("text_fusion").Observe(p.now().Sub(stage5).Seconds())

	// stage 6: message assembly
	rec.FinalMessages = fusion.AssembleMessages(
		rec.HistoryContext, rec.ContextSummary, rec.ImageContext, rec.VideoFrameContext)

	// stages 7-8: answer generation and extraction
	if err := p.stageAnswer(ctx, rec); err != nil {
		rec.FieldErrors["final_response"] = fmt.Sprintf("Error: %v", err)
		rec.Answer = AnswerSentinel
		logger.Error("Answer generation failed", zap.Error(err))
		return true
	}

	// stages 9-11: follow-up questions, non-fatal
	p.stageFollowUp(ctx, rec)

	return false
}

func (p *Pipeline) stageToolSelection(ctx context.Context, rec *models.QueryRecord) (*llm.ToolSelection, error) {
	start := p.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("tool_selection").Observe(p.now().Sub(start).Seconds())
	}()

	return p.llm.CompleteWithTools(ctx,
		rec.InitialSystemPrompt, rec.Prompt, p.tools.Definitions(), rec.Temperature, rec.MaxTokens)
}

func (p *Pipeline) stageToolExecution(ctx context.Context, rec *models.QueryRecord, calls []llm.ToolCall) {
	start := p.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("tool_execution").Observe(p.now().Sub(start).Seconds())
	}()

	for _, call := range calls {
		metrics.ToolExecutions.WithLabelValues(call.Name).Inc()
	}
	rec.ToolOutput = p.tools.Execute(ctx, calls, rec.UserID)
}

// stageRetrieval runs the five modality searches and the recent-history
// fetch concurrently. Each failure degrades its own field only.
func (p *Pipeline) stageRetrieval(ctx context.Context, rec *models.QueryRecord) {
	start := p.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("retrieval").Observe(p.now().Sub(start).Seconds())
	}()

	var mu sync.Mutex
	fail := func(field string, err error) {
		mu.Lock()
		rec.FieldErrors[field] = fmt.Sprintf("Error: %v", err)
		mu.Unlock()
		logger.Warn("Retrieval degraded", zap.String("field", field), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := p.retriever.SearchDocuments(gctx, rec.Prompt, rec.UserID)
		if err != nil {
			fail("doc_context", err)
			return nil
		}
		rec.DocContext = hits
		metrics.RetrievalResultsCount.WithLabelValues("documents").Observe(float64(len(hits)))
		return nil
	})

	g.Go(func() error {
		hits, err := p.retriever.SearchImages(gctx, rec.Prompt, rec.UserID)
		if err != nil {
			fail("image_context", err)
			return nil
		}
		rec.ImageContext = hits
		metrics.RetrievalResultsCount.WithLabelValues("images").Observe(float64(len(hits)))
		return nil
	})

	g.Go(func() error {
		hits, err := p.retriever.SearchVideoFrames(gctx, rec.Prompt, rec.UserID)
		if err != nil {
			fail("video_frame_context", err)
			return nil
		}
		rec.VideoFrameContext = hits
		metrics.RetrievalResultsCount.WithLabelValues("video_frames").Observe(float64(len(hits)))
		return nil
	})

	g.Go(func() error {
		hits, err := p.retriever.SearchMemory(gctx, rec.Prompt, rec.UserID)
		if err != nil {
			fail("memory_context", err)
			return nil
		}
		rec.MemoryContext = hits
		metrics.RetrievalResultsCount.WithLabelValues("memory").Observe(float64(len(hits)))
		return nil
	})

	g.Go(func() error {
		hits, err := p.retriever.SearchChatHistory(gctx, rec.Prompt, rec.UserID)
		if err != nil {
			fail("chat_memory_context", err)
			return nil
		}
		rec.ChatMemoryContext = hits
		metrics.RetrievalResultsCount.WithLabelValues("chat_history").Observe(float64(len(hits)))
		return nil
	})

	g.Go(func() error {
		turns, err := p.store.RecentHistory(gctx, rec.UserID, p.retrCfg.RecentHistoryLimit)
		if err != nil {
			fail("history_context", err)
			return nil
		}
		rec.HistoryContext = turns
		return nil
	})

	// workers never return errors; Wait is for joining only
	_ = g.Wait()
}

func (p *Pipeline) stageAnswer(ctx context.Context, rec *models.QueryRecord) error {
	start := p.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("answer_generation").Observe(p.now().Sub(start).Seconds())
	}()

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: rec.FinalSystemPrompt,
		Messages:     rec.FinalMessages,
		Temperature:  rec.Temperature,
		MaxTokens:    rec.MaxTokens,
	})
	if err != nil {
		return err
	}

	metrics.LLMTokensUsed.WithLabelValues(p.llmCfg.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	metrics.LLMTokensUsed.WithLabelValues(p.llmCfg.Model, "prompt").Add(float64(resp.Usage.PromptTokens))

	rec.FinalResponse = resp.Content
	rec.Answer = strings.TrimSpace(resp.Content)
	if rec.Answer == "" {
		rec.Answer = AnswerSentinel
	}
	return nil
}

// stageFollowUp generates follow-up questions. Fewer than three questions
// come back as-is; the pipeline neither pads nor truncates.
func (p *Pipeline) stageFollowUp(ctx context.Context, rec *models.QueryRecord) {
	start := p.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("follow_up").Observe(p.now().Sub(start).Seconds())
	}()

	rec.FollowUpPrompt = fusion.BuildFollowUpPrompt(rec.Prompt, rec.Answer)

	raw, err := p.llm.CompleteJSON(ctx,
		"Generate exactly 3 relevant follow-up questions based on the conversation.",
		rec.FollowUpPrompt, "follow_up_questions", fusion.FollowUpSchema, rec.MaxTokens)
	if err != nil {
		rec.FieldErrors["follow_up_raw"] = fmt.Sprintf("Error: %v", err)
		logger.Warn("Follow-up generation failed", zap.Error(err))
		return
	}

	rec.FollowUpRaw = raw
	rec.FollowUpQuestions = fusion.ExtractFollowUpQuestions(raw)
}

// recordHistory appends the user prompt to chat history, then the assistant
// answer. Error sentinels are never recorded as assistant turns.
func (p *Pipeline) recordHistory(ctx context.Context, rec *models.QueryRecord) {
	userTurn := &models.ChatTurn{
		Timestamp: rec.Timestamp,
		UserID:    rec.UserID,
		Role:      "user",
		Content:   rec.Prompt,
	}
	if err := p.store.InsertChatTurn(ctx, userTurn); err != nil {
		logger.Warn("Failed to insert user turn", zap.Error(err))
		return
	}

	if rec.Answer == "" || strings.HasPrefix(rec.Answer, "Error:") {
		logger.Debug("Skipping assistant turn for failed answer", zap.String("user_id", rec.UserID))
		return
	}

	assistantTurn := &models.ChatTurn{
		Timestamp: p.now(),
		UserID:    rec.UserID,
		Role:      "assistant",
		Content:   rec.Answer,
	}
	if err := p.store.InsertChatTurn(ctx, assistantTurn); err != nil {
		logger.Warn("Failed to insert assistant turn", zap.Error(err))
	}
}
