package models

import "time"

// QueryRecord is one row of the agent query table: the submitted inputs plus
// every pipeline-derived field. Records are keyed by (Timestamp, UserID),
// written once when the pipeline reaches a terminal state, and never updated
// in place.
type QueryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`

	Prompt              string  `json:"prompt"`
	InitialSystemPrompt string  `json:"initial_system_prompt"`
	FinalSystemPrompt   string  `json:"final_system_prompt"`
	MaxTokens           int     `json:"max_tokens"`
	Temperature         float32 `json:"temperature"`

	InitialResponse   string          `json:"initial_response"`
	ToolOutput        string          `json:"tool_output"`
	DocContext        []DocumentHit   `json:"doc_context"`
	ImageContext      []ImageHit      `json:"image_context"`
	VideoFrameContext []FrameHit      `json:"video_frame_context"`
	MemoryContext     []MemoryHit     `json:"memory_context"`
	ChatMemoryContext []ChatHit       `json:"chat_memory_context"`
	HistoryContext    []ChatTurn      `json:"history_context"`
	ContextSummary    string          `json:"context_summary"`
	FinalMessages     []Message       `json:"final_messages"`
	FinalResponse     string          `json:"final_response"`
	Answer            string          `json:"answer"`
	FollowUpPrompt    string          `json:"follow_up_prompt"`
	FollowUpRaw       string          `json:"follow_up_raw"`
	FollowUpQuestions []string        `json:"follow_up_questions"`

	// FieldErrors records per-field failures for fields that could not be
	// computed; the field itself stays at its zero value.
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// DocumentHit is one ranked chunk from document search.
type DocumentHit struct {
	Text      string  `json:"text"`
	SourceDoc string  `json:"source_doc"`
	Title     string  `json:"title"`
	Heading   string  `json:"heading"`
	Page      int     `json:"page_number"`
	Sim       float64 `json:"sim"`
}

// ImageHit is one ranked image match, payload already base64-encoded.
type ImageHit struct {
	EncodedImage string  `json:"encoded_image"`
	Sim          float64 `json:"sim"`
}

// FrameHit is one ranked video keyframe match.
type FrameHit struct {
	EncodedFrame string  `json:"encoded_frame"`
	SourceVideo  string  `json:"source_video"`
	PosSec       float64 `json:"pos_sec"`
	Sim          float64 `json:"sim"`
}

// TranscriptHit is one ranked transcript sentence from audio or video.
type TranscriptHit struct {
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	StartSec float64 `json:"start_sec"`
	Sim      float64 `json:"sim"`
}

// MemoryHit is one ranked memory-bank item.
type MemoryHit struct {
	Content      string  `json:"content"`
	Type         string  `json:"type"`
	Language     string  `json:"language,omitempty"`
	ContextQuery string  `json:"context_query"`
	Sim          float64 `json:"sim"`
}

// ChatHit is one ranked older chat turn from semantic history search.
type ChatHit struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sim       float64   `json:"sim"`
}

// ChatTurn is a persisted conversation turn.
type ChatTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
}

// MemoryItem is a persisted memory-bank row.
type MemoryItem struct {
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	Language     string    `json:"language,omitempty"`
	ContextQuery string    `json:"context_query"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
}

// Persona overrides the default system prompts and sampling parameters for
// one user's submissions. (UserID, Name) is unique.
type Persona struct {
	UserID        string    `json:"user_id"`
	Name          string    `json:"persona_name"`
	InitialPrompt string    `json:"initial_prompt"`
	FinalPrompt   string    `json:"final_prompt"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Temperature   float32   `json:"temperature,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PromptExperiment is one recorded ad-hoc prompt run.
type PromptExperiment struct {
	ID             string    `json:"id"`
	Task           string    `json:"task"`
	SystemPrompt   string    `json:"system_prompt"`
	UserPrompt     string    `json:"user_prompt"`
	Model          string    `json:"model"`
	Provider       string    `json:"provider"`
	Temperature    float32   `json:"temperature"`
	MaxTokens      int       `json:"max_tokens"`
	Response       string    `json:"response"`
	ResponseTimeMS float64   `json:"response_time_ms"`
	WordCount      int       `json:"word_count"`
	CharCount      int       `json:"char_count"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
}

// Message is one chat message for the answer-generation call. History turns
// carry plain text Content; the final user turn carries Blocks.
type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeVideoFrame = "video_frame"
)

// ContentBlock is one multimodal block inside the final user turn.
type ContentBlock struct {
	Type   string       `json:"type"` // "text", "image" or "video_frame"
	Text   string       `json:"text,omitempty"`
	Source *BlockSource `json:"source,omitempty"`
}

// BlockSource carries an encoded binary payload.
type BlockSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}
