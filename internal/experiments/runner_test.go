package experiments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/internal/storage/models"
)

type fakeLLM struct {
	content string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

type fakeStore struct {
	inserted []*models.PromptExperiment
}

func (f *fakeStore) InsertExperiment(_ context.Context, e *models.PromptExperiment) error {
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeStore) ListExperiments(_ context.Context, _ string, _ int) ([]models.PromptExperiment, error) {
	return nil, nil
}

func TestRunRecordsStats(t *testing.T) {
	store := &fakeStore{}
	r := NewRunner(&fakeLLM{content: "three short words"}, store, "gpt-4o", "openai")

	exp, err := r.Run(context.Background(), RunRequest{
		Task:       "summarize",
		UserPrompt: "Summarize the report.",
		UserID:     "u1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, "three short words", exp.Response)
	assert.Equal(t, 3, exp.WordCount)
	assert.Equal(t, len("three short words"), exp.CharCount)
	assert.Equal(t, "gpt-4o", exp.Model)
	assert.GreaterOrEqual(t, exp.ResponseTimeMS, 0.0)
	require.Len(t, store.inserted, 1)
}

func TestRunLLMFailureRecordedOnRow(t *testing.T) {
	store := &fakeStore{}
	r := NewRunner(&fakeLLM{err: errors.New("model offline")}, store, "gpt-4o", "openai")

	exp, err := r.Run(context.Background(), RunRequest{UserPrompt: "q"})
	require.NoError(t, err)

	assert.Equal(t, "model offline", exp.Error)
	assert.Empty(t, exp.Response)
	require.Len(t, store.inserted, 1)
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	r := NewRunner(&fakeLLM{}, &fakeStore{}, "gpt-4o", "openai")

	_, err := r.Run(context.Background(), RunRequest{})
	assert.Error(t, err)
}
