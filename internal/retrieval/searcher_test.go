package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modalbot/backend/internal/vector/milvus"
	"github.com/modalbot/backend/pkg/config"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeIndex struct {
	hits      map[string][]milvus.Hit
	err       error
	lastOwner string
	lastTopK  int
}

func (f *fakeIndex) Search(_ context.Context, collection string, _ []float32, topK int, owner string, _ []string) ([]milvus.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOwner = owner
	f.lastTopK = topK
	return f.hits[collection], nil
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		DocThreshold:             0.5,
		ImageThreshold:           0.25,
		FrameThreshold:           0.25,
		VideoTranscriptThreshold: 0.7,
		AudioTranscriptThreshold: 0.6,
		MemoryThreshold:          0.8,
		ChatThreshold:            0.8,
		DocLimit:                 20,
		ImageLimit:               5,
		FrameLimit:               5,
		VideoTranscriptLimit:     20,
		AudioTranscriptLimit:     30,
		MemoryLimit:              10,
		ChatLimit:                10,
	}
}

func docHit(text string, score float32) milvus.Hit {
	return milvus.Hit{
		Score: score,
		Fields: map[string]interface{}{
			"text":       text,
			"source_doc": "report.pdf",
			"title":      "Report",
			"heading":    "Results",
			"page":       int64(3),
		},
	}
}

func TestSearchDocumentsThresholdAndLengthFilter(t *testing.T) {
	long := strings.Repeat("relevant finding ", 5)
	idx := &fakeIndex{hits: map[string][]milvus.Hit{
		milvus.CollectionChunks: {
			docHit(long, 0.9),
			docHit("short", 0.8),          // dropped: too short
			docHit(long+" weak", 0.4),     // dropped: below threshold
			docHit(long+" second", 0.55),  // kept
		},
	}}
	s := NewSearcher(&fakeEmbedder{}, idx, testConfig())

	results, err := s.SearchDocuments(context.Background(), "what were the results?", "local_user")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.9, results[0].Sim, 1e-6)
	assert.InDelta(t, 0.55, results[1].Sim, 1e-6)
	assert.Equal(t, "report.pdf", results[0].SourceDoc)
	assert.Equal(t, 3, results[0].Page)
	assert.Equal(t, "local_user", idx.lastOwner)
	assert.Equal(t, 20, idx.lastTopK)
}

func TestSearchDocumentsSortedBestFirst(t *testing.T) {
	long := strings.Repeat("context sentence ", 4)
	idx := &fakeIndex{hits: map[string][]milvus.Hit{
		milvus.CollectionChunks: {
			docHit(long+"a", 0.6),
			docHit(long+"b", 0.95),
			docHit(long+"c", 0.7),
		},
	}}
	s := NewSearcher(&fakeEmbedder{}, idx, testConfig())

	results, err := s.SearchDocuments(context.Background(), "q", "u")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Sim >= results[1].Sim && results[1].Sim >= results[2].Sim)
}

func TestSearchImagesThreshold(t *testing.T) {
	idx := &fakeIndex{hits: map[string][]milvus.Hit{
		milvus.CollectionImages: {
			{Score: 0.5, Fields: map[string]interface{}{"encoded_image": "aGkh"}},
			{Score: 0.2, Fields: map[string]interface{}{"encoded_image": "bm8="}},
		},
	}}
	s := NewSearcher(&fakeEmbedder{}, idx, testConfig())

	results, err := s.SearchImages(context.Background(), "diagram", "u")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "aGkh", results[0].EncodedImage)
	assert.Equal(t, 5, idx.lastTopK)
}

func TestSearchTranscriptsPerModalityThresholds(t *testing.T) {
	hit := func(score float32) milvus.Hit {
		return milvus.Hit{Score: score, Fields: map[string]interface{}{
			"text": "we discussed the roadmap", "source": "standup.mp4", "start_sec": 12.5,
		}}
	}
	idx := &fakeIndex{hits: map[string][]milvus.Hit{
		milvus.CollectionVideoTranscripts: {hit(0.65)}, // below 0.7
		milvus.CollectionAudioTranscripts: {hit(0.65)}, // above 0.6
	}}
	s := NewSearcher(&fakeEmbedder{}, idx, testConfig())

	video, err := s.SearchVideoTranscripts(context.Background(), "roadmap", "u")
	require.NoError(t, err)
	assert.Empty(t, video)

	audio, err := s.SearchAudioTranscripts(context.Background(), "roadmap", "u")
	require.NoError(t, err)
	require.Len(t, audio, 1)
	assert.Equal(t, "standup.mp4", audio[0].Source)
	assert.Equal(t, 12.5, audio[0].StartSec)
}

func TestSearchMemoryFields(t *testing.T) {
	idx := &fakeIndex{hits: map[string][]milvus.Hit{
		milvus.CollectionMemoryBank: {
			{Score: 0.85, Fields: map[string]interface{}{
				"content": "use exponential backoff", "type": "note",
				"language": "", "context_query": "retry strategy",
			}},
		},
	}}
	s := NewSearcher(&fakeEmbedder{}, idx, testConfig())

	results, err := s.SearchMemory(context.Background(), "retries", "u")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "note", results[0].Type)
	assert.Equal(t, "retry strategy", results[0].ContextQuery)
}

func TestSearchUnavailableOnIndexError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("milvus: connection closed")}
	s := NewSearcher(&fakeEmbedder{}, idx, testConfig())

	_, err := s.SearchDocuments(context.Background(), "q", "u")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSearchUnavailableOnEmbeddingError(t *testing.T) {
	s := NewSearcher(&fakeEmbedder{err: errors.New("api down")}, &fakeIndex{}, testConfig())

	_, err := s.SearchImages(context.Background(), "q", "u")
	assert.ErrorIs(t, err, ErrUnavailable)
}
