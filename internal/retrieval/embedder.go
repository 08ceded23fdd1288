package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/modalbot/backend/pkg/logger"
)

// EmbeddingCache is the slice of the cache layer the embedder wrapper needs.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, text string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder memoizes embeddings. The retrieval fan-out embeds the same
// prompt once per modality otherwise.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, ttl: ttl}
}

func (e *CachedEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if embedding, ok, err := e.cache.GetEmbedding(ctx, text); err == nil && ok {
		return embedding, nil
	} else if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}

	embedding, err := e.inner.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := e.cache.SetEmbedding(ctx, text, embedding, e.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return embedding, nil
}
