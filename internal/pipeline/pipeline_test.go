package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/pkg/config"
)

type fakeLLM struct {
	selection    *llm.ToolSelection
	selectionErr error
	answer       string
	answerErr    error
	followUp     string
	followUpErr  error

	completeCalls int
	lastMessages  []models.Message
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.completeCalls++
	f.lastMessages = req.Messages
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return &llm.CompletionResponse{Content: f.answer}, nil
}

func (f *fakeLLM) CompleteWithTools(_ context.Context, _, _ string, _ []llm.ToolDefinition, _ float32, _ int) (*llm.ToolSelection, error) {
	if f.selectionErr != nil {
		return nil, f.selectionErr
	}
	return f.selection, nil
}

func (f *fakeLLM) CompleteJSON(_ context.Context, _, _, _ string, _ json.Marshaler, _ int) (string, error) {
	if f.followUpErr != nil {
		return "", f.followUpErr
	}
	return f.followUp, nil
}

type fakeTools struct {
	output    string
	lastCalls []llm.ToolCall
	lastOwner string
}

func (f *fakeTools) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{Name: "get_latest_news"},
		{Name: "fetch_financial_data"},
	}
}

func (f *fakeTools) Execute(_ context.Context, calls []llm.ToolCall, owner string) string {
	f.lastCalls = calls
	f.lastOwner = owner
	return f.output
}

type fakeRetriever struct {
	docs      []models.DocumentHit
	images    []models.ImageHit
	frames    []models.FrameHit
	memory    []models.MemoryHit
	chat      []models.ChatHit
	docErr    error
	imagesErr error
}

func (f *fakeRetriever) SearchDocuments(_ context.Context, _, _ string) ([]models.DocumentHit, error) {
	return f.docs, f.docErr
}

func (f *fakeRetriever) SearchImages(_ context.Context, _, _ string) ([]models.ImageHit, error) {
	return f.images, f.imagesErr
}

func (f *fakeRetriever) SearchVideoFrames(_ context.Context, _, _ string) ([]models.FrameHit, error) {
	return f.frames, nil
}

func (f *fakeRetriever) SearchMemory(_ context.Context, _, _ string) ([]models.MemoryHit, error) {
	return f.memory, nil
}

func (f *fakeRetriever) SearchChatHistory(_ context.Context, _, _ string) ([]models.ChatHit, error) {
	return f.chat, nil
}

type fakeStore struct {
	records  []*models.QueryRecord
	turns    []*models.ChatTurn
	history  []models.ChatTurn
	personas map[string]*models.Persona

	insertErr  error
	historyErr error
}

func (f *fakeStore) InsertQueryRecord(_ context.Context, rec *models.QueryRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) InsertChatTurn(_ context.Context, turn *models.ChatTurn) error {
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeStore) RecentHistory(_ context.Context, _ string, _ int) ([]models.ChatTurn, error) {
	return f.history, f.historyErr
}

func (f *fakeStore) GetPersona(_ context.Context, _, name string) (*models.Persona, error) {
	if p, ok := f.personas[name]; ok {
		return p, nil
	}
	return nil, errors.New("record not found")
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Model:               "gpt-4o",
		Temperature:         0.7,
		MaxTokens:           1024,
		InitialSystemPrompt: "Identify the best tool(s) to answer the user's query based on the available data sources (documents, images, news, financial data).",
		FinalSystemPrompt:   "Based on the provided context and the user's query, provide a very concise answer, ideally just a few words.",
	}
}

func newTestPipeline(l *fakeLLM, tools *fakeTools, r *fakeRetriever, s *fakeStore) *Pipeline {
	return New(l, tools, r, s, testLLMConfig(), config.RetrievalConfig{RecentHistoryLimit: 4})
}

func TestRunStockQueryEndToEnd(t *testing.T) {
	l := &fakeLLM{
		selection: &llm.ToolSelection{
			Calls: []llm.ToolCall{{Name: "fetch_financial_data", Arguments: map[string]interface{}{"ticker": "AAPL"}}},
			Raw:   `{"tool_calls":[{"name":"fetch_financial_data"}]}`,
		},
		answer:   "Apple trades at 232.50 USD.",
		followUp: `{"questions":["How has it moved this year?","What is the market cap?","How does it compare to MSFT?"]}`,
	}
	tools := &fakeTools{output: "Financial Summary for Apple Inc. (AAPL) - EQUITY\nCurrent Price: 232.50 USD"}
	store := &fakeStore{}
	p := newTestPipeline(l, tools, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "What is Apple's stock price?"})
	require.NoError(t, err)

	// tool selection picked the financial tool, output flowed into fusion
	require.Len(t, tools.lastCalls, 1)
	assert.Equal(t, "fetch_financial_data", tools.lastCalls[0].Name)
	assert.Equal(t, DefaultUserID, tools.lastOwner)
	assert.Contains(t, rec.ToolOutput, "232.50")
	assert.Contains(t, rec.ContextSummary, "[TOOL RESULTS]\nFinancial Summary")

	assert.False(t, strings.HasPrefix(rec.Answer, "Error:"))
	assert.Equal(t, "Apple trades at 232.50 USD.", rec.Answer)
	assert.Len(t, rec.FollowUpQuestions, 3)
	assert.Empty(t, rec.FieldErrors)

	// record persisted, both chat turns recorded
	require.Len(t, store.records, 1)
	require.Len(t, store.turns, 2)
	assert.Equal(t, "user", store.turns[0].Role)
	assert.Equal(t, "What is Apple's stock price?", store.turns[0].Content)
	assert.Equal(t, "assistant", store.turns[1].Role)
}

func TestRunDefaultsApplied(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "ok", followUp: `{"questions":[]}`}
	store := &fakeStore{}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, DefaultUserID, rec.UserID)
	assert.Equal(t, 1024, rec.MaxTokens)
	assert.Equal(t, float32(0.7), rec.Temperature)
	assert.Contains(t, rec.InitialSystemPrompt, "Identify the best tool(s)")
	assert.Contains(t, rec.FinalSystemPrompt, "very concise answer")
}

func TestRunPersonaOverrides(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "ok", followUp: "{}"}
	store := &fakeStore{personas: map[string]*models.Persona{
		"analyst": {
			Name:          "analyst",
			InitialPrompt: "Pick tools like an analyst.",
			FinalPrompt:   "Answer like an analyst.",
			MaxTokens:     2048,
			Temperature:   0.2,
		},
	}}
	tools := &fakeTools{}
	p := newTestPipeline(l, tools, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "q", UserID: "u1", Persona: "analyst"})
	require.NoError(t, err)

	assert.Equal(t, "Pick tools like an analyst.", rec.InitialSystemPrompt)
	assert.Equal(t, "Answer like an analyst.", rec.FinalSystemPrompt)
	assert.Equal(t, 2048, rec.MaxTokens)
	assert.Equal(t, float32(0.2), rec.Temperature)
	// tool execution runs as the submitting user, not the default owner
	assert.Equal(t, "u1", tools.lastOwner)
}

func TestRunUnknownPersonaFallsBack(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "ok", followUp: "{}"}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, &fakeStore{})

	rec, err := p.Run(context.Background(), Request{Prompt: "q", Persona: "ghost"})
	require.NoError(t, err)
	assert.Contains(t, rec.InitialSystemPrompt, "Identify the best tool(s)")
}

func TestRunToolSelectionFailureIsFatal(t *testing.T) {
	l := &fakeLLM{selectionErr: errors.New("model offline")}
	store := &fakeStore{}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, AnswerSentinel, rec.Answer)
	assert.Contains(t, rec.FieldErrors["initial_response"], "model offline")
	// no later stage ran
	assert.Zero(t, l.completeCalls)
	// record persisted; the question still enters history, the sentinel does not
	require.Len(t, store.records, 1)
	require.Len(t, store.turns, 1)
	assert.Equal(t, "user", store.turns[0].Role)
	assert.Equal(t, "q", store.turns[0].Content)
}

func TestRunAnswerFailureIsFatalButPersisted(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answerErr: errors.New("capacity")}
	store := &fakeStore{}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, AnswerSentinel, rec.Answer)
	assert.Contains(t, rec.FieldErrors["final_response"], "capacity")
	require.Len(t, store.records, 1)
	require.Len(t, store.turns, 1)
	assert.Equal(t, "user", store.turns[0].Role)
}

func TestRunRetrievalFailureDegradesField(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "fine", followUp: "{}"}
	r := &fakeRetriever{
		docErr:    errors.New("index unreachable"),
		imagesErr: errors.New("index unreachable"),
		memory:    []models.MemoryHit{{Content: "remembered", Type: "text", ContextQuery: "q", Sim: 0.9}},
	}
	p := newTestPipeline(l, &fakeTools{}, r, &fakeStore{})

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	assert.Contains(t, rec.FieldErrors["doc_context"], "index unreachable")
	assert.Contains(t, rec.FieldErrors["image_context"], "index unreachable")
	assert.Empty(t, rec.DocContext)
	// degraded modalities render as N/A, surviving ones still flow through
	assert.Contains(t, rec.ContextSummary, "[DOCUMENT CONTEXT]\nN/A")
	assert.Contains(t, rec.ContextSummary, "remembered")
	assert.Equal(t, "fine", rec.Answer)
}

func TestRunHistoryFlowsIntoMessages(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "yes", followUp: "{}"}
	store := &fakeStore{history: []models.ChatTurn{
		{Role: "assistant", Content: "earlier answer", Timestamp: time.Now()},
		{Role: "user", Content: "earlier question", Timestamp: time.Now().Add(-time.Minute)},
	}}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	require.Len(t, rec.FinalMessages, 3)
	assert.Equal(t, "earlier question", rec.FinalMessages[0].Content)
	assert.Equal(t, "earlier answer", rec.FinalMessages[1].Content)
	// the answer call saw the assembled messages
	assert.Equal(t, rec.FinalMessages, l.lastMessages)

	last := rec.FinalMessages[len(rec.FinalMessages)-1]
	assert.Equal(t, "user", last.Role)
	require.NotEmpty(t, last.Blocks)
	assert.Equal(t, models.BlockTypeText, last.Blocks[len(last.Blocks)-1].Type)
}

func TestRunFollowUpFailureKeepsAnswer(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "the answer", followUpErr: errors.New("schema call failed")}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, &fakeStore{})

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, "the answer", rec.Answer)
	assert.Empty(t, rec.FollowUpQuestions)
	assert.Contains(t, rec.FieldErrors["follow_up_raw"], "schema call failed")
}

func TestRunFollowUpShortListPreserved(t *testing.T) {
	l := &fakeLLM{
		selection: &llm.ToolSelection{},
		answer:    "the answer",
		followUp:  `{"questions":["Only one?"]}`,
	}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, &fakeStore{})

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)

	// fewer than three questions pass through untouched
	require.Len(t, rec.FollowUpQuestions, 1)
	assert.Equal(t, "Only one?", rec.FollowUpQuestions[0])
}

func TestRunPersistFailureSurfaces(t *testing.T) {
	l := &fakeLLM{selection: &llm.ToolSelection{}, answer: "ok", followUp: "{}"}
	store := &fakeStore{insertErr: errors.New("disk full")}
	p := newTestPipeline(l, &fakeTools{}, &fakeRetriever{}, store)

	rec, err := p.Run(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	// the computed record still comes back to the caller
	assert.Equal(t, "ok", rec.Answer)
}
