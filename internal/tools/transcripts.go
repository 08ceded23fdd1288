package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/modalbot/backend/internal/storage/models"
	"github.com/modalbot/backend/pkg/logger"
)

// TranscriptSearcher is the slice of the retrieval layer the transcript
// tools need.
type TranscriptSearcher interface {
	SearchVideoTranscripts(ctx context.Context, prompt, owner string) ([]models.TranscriptHit, error)
	SearchAudioTranscripts(ctx context.Context, prompt, owner string) ([]models.TranscriptHit, error)
}

// NewVideoTranscriptTool exposes video transcript retrieval as a selectable
// tool, so the model can reach for it on spoken-content questions. The
// search is scoped to the owner of the running request.
func NewVideoTranscriptTool(searcher TranscriptSearcher) Descriptor {
	return Descriptor{
		Name:        "search_video_transcripts",
		Description: "Search indexed video transcripts by text query.",
		Parameters:  transcriptParams(),
		Call: func(ctx context.Context, args map[string]interface{}, owner string) string {
			query := stringArg(args, "query_text")
			if query == "" {
				return "Error: No query text provided."
			}
			hits, err := searcher.SearchVideoTranscripts(ctx, query, owner)
			if err != nil {
				logger.Warn("Video transcript search failed", zap.Error(err))
				return fmt.Sprintf("Error: video transcript search failed: %v", err)
			}
			return formatTranscriptHits("video transcripts", query, hits)
		},
	}
}

func NewAudioTranscriptTool(searcher TranscriptSearcher) Descriptor {
	return Descriptor{
		Name:        "search_audio_transcripts",
		Description: "Search indexed audio transcripts by text query.",
		Parameters:  transcriptParams(),
		Call: func(ctx context.Context, args map[string]interface{}, owner string) string {
			query := stringArg(args, "query_text")
			if query == "" {
				return "Error: No query text provided."
			}
			hits, err := searcher.SearchAudioTranscripts(ctx, query, owner)
			if err != nil {
				logger.Warn("Audio transcript search failed", zap.Error(err))
				return fmt.Sprintf("Error: audio transcript search failed: %v", err)
			}
			return formatTranscriptHits("audio transcripts", query, hits)
		},
	}
}

func transcriptParams() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query_text": map[string]interface{}{
				"type":        "string",
				"description": "The text query to search for.",
			},
		},
		"required": []string{"query_text"},
	}
}

func formatTranscriptHits(kind, query string, hits []models.TranscriptHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No %s matched '%s'.", kind, query)
	}

	entries := make([]string, 0, len(hits))
	for i, h := range hits {
		entries = append(entries, fmt.Sprintf("%d. [%s @ %.1fs] %s", i+1, h.Source, h.StartSec, h.Text))
	}
	return strings.Join(entries, "\n")
}
