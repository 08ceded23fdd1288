package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/modalbot/backend/pkg/logger"
)

// Per-modality collection names. Each collection carries an "embedding"
// float vector, an "owner" varchar, and modality-specific payload fields.
const (
	CollectionChunks           = "doc_chunks"
	CollectionImages           = "images"
	CollectionVideoFrames      = "video_frames"
	CollectionVideoTranscripts = "video_transcript_sentences"
	CollectionAudioTranscripts = "audio_transcript_sentences"
	CollectionMemoryBank       = "memory_bank"
	CollectionChatHistory      = "chat_history"
)

// CollectionPayloads lists the payload schema of every collection the
// retrieval layer searches, keyed by collection name. Varchar lengths are
// sized for base64-encoded media where the column carries it.
var CollectionPayloads = map[string][]FieldSpec{
	CollectionChunks: {
		{Name: "text", Type: entity.FieldTypeVarChar, MaxLength: 16384},
		{Name: "source_doc", Type: entity.FieldTypeVarChar, MaxLength: 1024},
		{Name: "title", Type: entity.FieldTypeVarChar, MaxLength: 1024},
		{Name: "heading", Type: entity.FieldTypeVarChar, MaxLength: 1024},
		{Name: "page", Type: entity.FieldTypeInt64},
	},
	CollectionImages: {
		{Name: "encoded_image", Type: entity.FieldTypeVarChar, MaxLength: 65535},
	},
	CollectionVideoFrames: {
		{Name: "encoded_frame", Type: entity.FieldTypeVarChar, MaxLength: 65535},
		{Name: "source_video", Type: entity.FieldTypeVarChar, MaxLength: 1024},
		{Name: "pos_sec", Type: entity.FieldTypeDouble},
	},
	CollectionVideoTranscripts: {
		{Name: "text", Type: entity.FieldTypeVarChar, MaxLength: 8192},
		{Name: "source", Type: entity.FieldTypeVarChar, MaxLength: 1024},
		{Name: "start_sec", Type: entity.FieldTypeDouble},
	},
	CollectionAudioTranscripts: {
		{Name: "text", Type: entity.FieldTypeVarChar, MaxLength: 8192},
		{Name: "source", Type: entity.FieldTypeVarChar, MaxLength: 1024},
		{Name: "start_sec", Type: entity.FieldTypeDouble},
	},
	CollectionMemoryBank: {
		{Name: "content", Type: entity.FieldTypeVarChar, MaxLength: 16384},
		{Name: "type", Type: entity.FieldTypeVarChar, MaxLength: 64},
		{Name: "language", Type: entity.FieldTypeVarChar, MaxLength: 64},
		{Name: "context_query", Type: entity.FieldTypeVarChar, MaxLength: 2048},
	},
	CollectionChatHistory: {
		{Name: "role", Type: entity.FieldTypeVarChar, MaxLength: 32},
		{Name: "content", Type: entity.FieldTypeVarChar, MaxLength: 16384},
		{Name: "timestamp", Type: entity.FieldTypeInt64},
	},
}

type Client struct {
	client    client.Client
	vectorDim int
}

// Hit is one scored row from a similarity search. Fields holds the requested
// output columns keyed by field name.
type Hit struct {
	ID     string
	Score  float32
	Fields map[string]interface{}
}

// FieldSpec describes one payload column of a collection.
type FieldSpec struct {
	Name      string
	Type      entity.FieldType
	MaxLength int
}

func NewClient(endpoint string, vectorDim int) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.Int("dim", vectorDim),
	)

	return &Client{client: c, vectorDim: vectorDim}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads a collection if it does not exist yet.
// Every collection gets an id primary key, an owner column, and an embedding
// vector alongside the given payload fields.
func (m *Client) EnsureCollection(ctx context.Context, name string, payload []FieldSpec) error {
	has, err := m.client.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if has {
		logger.Debug("Collection already exists", zap.String("collection", name))
		return nil
	}

	fields := []*entity.Field{
		{
			Name:       "id",
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: true,
			AutoID:     false,
			TypeParams: map[string]string{"max_length": "64"},
		},
		{
			Name:       "embedding",
			DataType:   entity.FieldTypeFloatVector,
			TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
		},
		{
			Name:       "owner",
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "128"},
		},
	}

	for _, f := range payload {
		field := &entity.Field{Name: f.Name, DataType: f.Type}
		if f.Type == entity.FieldTypeVarChar {
			maxLen := f.MaxLength
			if maxLen == 0 {
				maxLen = 4096
			}
			field.TypeParams = map[string]string{"max_length": fmt.Sprintf("%d", maxLen)}
		}
		fields = append(fields, field)
	}

	schema := &entity.Schema{
		CollectionName: name,
		Fields:         fields,
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index on %s: %w", name, err)
	}
	if err := m.client.CreateIndex(ctx, name, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", name, err)
	}

	if err := m.client.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", name, err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name))
	return nil
}

// Search runs a cosine similarity search scoped to one owner and returns
// hits with the requested output fields. Scores are cosine similarities.
func (m *Client) Search(ctx context.Context, collection string, embedding []float32, topK int, owner string, outputFields []string) ([]Hit, error) {
	expr := fmt.Sprintf(`owner == "%s"`, owner)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		collection,
		[]string{},
		expr,
		append([]string{"id"}, outputFields...),
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", collection, err)
	}

	hits := make([]Hit, 0)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("id")
		for i := 0; i < sr.ResultCount; i++ {
			hit := Hit{
				Score:  sr.Scores[i],
				Fields: make(map[string]interface{}, len(outputFields)),
			}
			if idCol != nil {
				if id, err := idCol.Get(i); err == nil {
					hit.ID, _ = id.(string)
				}
			}
			for _, name := range outputFields {
				col := sr.Fields.GetColumn(name)
				if col == nil {
					continue
				}
				if v, err := col.Get(i); err == nil {
					hit.Fields[name] = v
				}
			}
			hits = append(hits, hit)
		}
	}

	logger.Debug("Vector search completed",
		zap.String("collection", collection),
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}
