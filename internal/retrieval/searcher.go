package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/internal/vector/milvus"
	"github.com/modalbot/backend/pkg/config"
	"github.com/modalbot/backend/pkg/logger"
)

// ErrUnavailable wraps index or embedding failures so callers can degrade
// the affected context field instead of aborting the query.
var ErrUnavailable = errors.New("retrieval unavailable")

// minDocTextLen drops boilerplate chunks (headers, page numbers) from
// document results.
const minDocTextLen = 30

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Search(ctx context.Context, collection string, embedding []float32, topK int, owner string, outputFields []string) ([]milvus.Hit, error)
}

// Searcher runs the per-modality similarity searches backing a query.
type Searcher struct {
	embedder Embedder
	index    Index
	cfg      config.RetrievalConfig
}

func NewSearcher(embedder Embedder, index Index, cfg config.RetrievalConfig) *Searcher {
	return &Searcher{embedder: embedder, index: index, cfg: cfg}
}

func (s *Searcher) search(ctx context.Context, collection, prompt, owner string, limit int, fields []string) ([]milvus.Hit, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", ErrUnavailable, err)
	}

	hits, err := s.index.Search(ctx, collection, embedding, limit, owner, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, collection, err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// SearchDocuments returns document chunks above the similarity threshold,
// best first, skipping chunks too short to be meaningful context.
func (s *Searcher) SearchDocuments(ctx context.Context, prompt, owner string) ([]models.DocumentHit, error) {
	hits, err := s.search(ctx, milvus.CollectionChunks, prompt, owner, s.cfg.DocLimit,
		[]string{"text", "source_doc", "title", "heading", "page"})
	if err != nil {
		return nil, err
	}

	results := make([]models.DocumentHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= s.cfg.DocThreshold {
			continue
		}
		text := stringField(h, "text")
		if len(text) <= minDocTextLen {
			continue
		}
		results = append(results, models.DocumentHit{
			Text:      text,
			SourceDoc: stringField(h, "source_doc"),
			Title:     stringField(h, "title"),
			Heading:   stringField(h, "heading"),
			Page:      intField(h, "page"),
			Sim:       float64(h.Score),
		})
	}

	logger.Debug("Document search completed", zap.Int("results", len(results)))
	return results, nil
}

func (s *Searcher) SearchImages(ctx context.Context, prompt, owner string) ([]models.ImageHit, error) {
	hits, err := s.search(ctx, milvus.CollectionImages, prompt, owner, s.cfg.ImageLimit,
		[]string{"encoded_image"})
	if err != nil {
		return nil, err
	}

	results := make([]models.ImageHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= s.cfg.ImageThreshold {
			continue
		}
		results = append(results, models.ImageHit{
			EncodedImage: stringField(h, "encoded_image"),
			Sim:          float64(h.Score),
		})
	}
	return results, nil
}

func (s *Searcher) SearchVideoFrames(ctx context.Context, prompt, owner string) ([]models.FrameHit, error) {
	hits, err := s.search(ctx, milvus.CollectionVideoFrames, prompt, owner, s.cfg.FrameLimit,
		[]string{"encoded_frame", "source_video", "pos_sec"})
	if err != nil {
		return nil, err
	}

	results := make([]models.FrameHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= s.cfg.FrameThreshold {
			continue
		}
		results = append(results, models.FrameHit{
			EncodedFrame: stringField(h, "encoded_frame"),
			SourceVideo:  stringField(h, "source_video"),
			PosSec:       floatField(h, "pos_sec"),
			Sim:          float64(h.Score),
		})
	}
	return results, nil
}

func (s *Searcher) SearchVideoTranscripts(ctx context.Context, prompt, owner string) ([]models.TranscriptHit, error) {
	return s.searchTranscripts(ctx, milvus.CollectionVideoTranscripts, prompt, owner,
		s.cfg.VideoTranscriptLimit, s.cfg.VideoTranscriptThreshold)
}

func (s *Searcher) SearchAudioTranscripts(ctx context.Context, prompt, owner string) ([]models.TranscriptHit, error) {
	return s.searchTranscripts(ctx, milvus.CollectionAudioTranscripts, prompt, owner,
		s.cfg.AudioTranscriptLimit, s.cfg.AudioTranscriptThreshold)
}

func (s *Searcher) searchTranscripts(ctx context.Context, collection, prompt, owner string, limit int, threshold float64) ([]models.TranscriptHit, error) {
	hits, err := s.search(ctx, collection, prompt, owner, limit,
		[]string{"text", "source", "start_sec"})
	if err != nil {
		return nil, err
	}

	results := make([]models.TranscriptHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= threshold {
			continue
		}
		results = append(results, models.TranscriptHit{
			Text:     stringField(h, "text"),
			Source:   stringField(h, "source"),
			StartSec: floatField(h, "start_sec"),
			Sim:      float64(h.Score),
		})
	}
	return results, nil
}

func (s *Searcher) SearchMemory(ctx context.Context, prompt, owner string) ([]models.MemoryHit, error) {
	hits, err := s.search(ctx, milvus.CollectionMemoryBank, prompt, owner, s.cfg.MemoryLimit,
		[]string{"content", "type", "language", "context_query"})
	if err != nil {
		return nil, err
	}

	results := make([]models.MemoryHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= s.cfg.MemoryThreshold {
			continue
		}
		results = append(results, models.MemoryHit{
			Content:      stringField(h, "content"),
			Type:         stringField(h, "type"),
			Language:     stringField(h, "language"),
			ContextQuery: stringField(h, "context_query"),
			Sim:          float64(h.Score),
		})
	}
	return results, nil
}

func (s *Searcher) SearchChatHistory(ctx context.Context, prompt, owner string) ([]models.ChatHit, error) {
	hits, err := s.search(ctx, milvus.CollectionChatHistory, prompt, owner, s.cfg.ChatLimit,
		[]string{"role", "content", "timestamp"})
	if err != nil {
		return nil, err
	}

	results := make([]models.ChatHit, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) <= s.cfg.ChatThreshold {
			continue
		}
		results = append(results, models.ChatHit{
			Role:      stringField(h, "role"),
			Content:   stringField(h, "content"),
			Timestamp: time.Unix(0, int64(intField(h, "timestamp"))),
			Sim:       float64(h.Score),
		})
	}
	return results, nil
}

func stringField(h milvus.Hit, name string) string {
	if v, ok := h.Fields[name].(string); ok {
		return v
	}
	return ""
}

func intField(h milvus.Hit, name string) int {
	switch v := h.Fields[name].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}

func floatField(h milvus.Hit, name string) float64 {
	switch v := h.Fields[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return 0
}
