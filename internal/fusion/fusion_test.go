package fusion

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modalbot/backend/internal/storage/models"
)

func TestBuildContextTextAllSectionsPresent(t *testing.T) {
	out := BuildContextText("what changed?", "", nil, nil, nil)

	assert.True(t, strings.HasPrefix(out, "ORIGINAL QUESTION:\nwhat changed?"))
	assert.Contains(t, out, "AVAILABLE CONTEXT:")
	assert.Contains(t, out, "[TOOL RESULTS]\nN/A")
	assert.Contains(t, out, "[DOCUMENT CONTEXT]\nN/A")
	assert.Contains(t, out, "[MEMORY BANK CONTEXT]\nN/A")
	assert.Contains(t, out, "[CHAT HISTORY SEARCH CONTEXT] (Older messages relevant to the query)\nN/A")
	assert.False(t, strings.HasSuffix(out, "\n"))
}

func TestBuildContextTextDocumentFormatting(t *testing.T) {
	docs := []models.DocumentHit{
		{Text: "revenue grew 12%", SourceDoc: "/data/uploads/q3-report.pdf"},
		{Text: "", SourceDoc: "/data/uploads/empty.pdf"},
	}

	out := BuildContextText("q", "tool said hi", docs, nil, nil)
	assert.Contains(t, out, "[TOOL RESULTS]\ntool said hi")
	assert.Contains(t, out, "- [Source: q3-report.pdf] revenue grew 12%")
	assert.NotContains(t, out, "empty.pdf")
}

func TestBuildContextTextMemoryTruncation(t *testing.T) {
	long := strings.Repeat("x", 150)
	memory := []models.MemoryHit{
		{Content: long, Type: "code", Language: "go", ContextQuery: "retry helper", Sim: 0.873},
	}

	out := BuildContextText("q", "", nil, memory, nil)
	assert.Contains(t, out, "- [Memory Item | Type: code (go) | Original Query: 'retry helper' | Sim: 0.873]")
	assert.Contains(t, out, "Content: "+strings.Repeat("x", 100)+"...")
	assert.NotContains(t, out, strings.Repeat("x", 101))
}

func TestBuildContextTextTruncationKeepsRunesIntact(t *testing.T) {
	memory := []models.MemoryHit{
		{Content: strings.Repeat("你", 110), Type: "note", Sim: 0.9},
	}

	out := BuildContextText("q", "", nil, memory, nil)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "Content: "+strings.Repeat("你", 100)+"...")
	assert.NotContains(t, out, strings.Repeat("你", 101))
}

func TestBuildContextTextChatHistoryFormatting(t *testing.T) {
	ts := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	long := strings.Repeat("y", 200)
	chat := []models.ChatHit{
		{Role: "assistant", Content: long, Timestamp: ts, Sim: 0.91},
	}

	out := BuildContextText("q", "", nil, nil, chat)
	assert.Contains(t, out, "- [Chat History | Role: assistant | Time: 2026-08-29 14:30 | Sim: 0.910]")
	assert.Contains(t, out, "Content: "+strings.Repeat("y", 150)+"...")
}

func TestAssembleMessagesHistoryChronological(t *testing.T) {
	now := time.Now()
	// newest first, as the store returns it
	history := []models.ChatTurn{
		{Role: "assistant", Content: "sure", Timestamp: now},
		{Role: "user", Content: "help me", Timestamp: now.Add(-time.Minute)},
	}

	messages := AssembleMessages(history, "CONTEXT", nil, nil)
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "help me", messages[0].Content)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "user", messages[2].Role)
}

func TestAssembleMessagesBlockOrder(t *testing.T) {
	images := []models.ImageHit{{EncodedImage: "imgdata"}}
	frames := []models.FrameHit{{EncodedFrame: "framedata"}}

	messages := AssembleMessages(nil, "CONTEXT", images, frames)
	require.Len(t, messages, 1)

	blocks := messages[0].Blocks
	require.Len(t, blocks, 3)
	assert.Equal(t, models.BlockTypeImage, blocks[0].Type)
	assert.Equal(t, "imgdata", blocks[0].Source.Data)
	assert.Equal(t, "image/png", blocks[0].Source.MediaType)
	assert.Equal(t, models.BlockTypeVideoFrame, blocks[1].Type)
	assert.Equal(t, models.BlockTypeText, blocks[2].Type)
	assert.Equal(t, "CONTEXT", blocks[2].Text)
}

func TestAssembleMessagesAlwaysEndsWithTextBlock(t *testing.T) {
	messages := AssembleMessages(nil, "CTX", nil, nil)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Blocks, 1)
	assert.Equal(t, models.BlockTypeText, messages[0].Blocks[0].Type)
	assert.Equal(t, "CTX", messages[0].Blocks[0].Text)
}

func TestBuildFollowUpPromptDelimiters(t *testing.T) {
	out := BuildFollowUpPrompt("what is the revenue?", "12 million")

	assert.Contains(t, out, "**exactly 3**")
	assert.Contains(t, out, "<ORIGINAL_PROMPT_START>\nwhat is the revenue?\n</ORIGINAL_PROMPT_END>")
	assert.Contains(t, out, "<ANSWER_TEXT_START>\n12 million\n</ANSWER_TEXT_END>")
	// the few-shot example stays ahead of the real input
	assert.Less(t, strings.Index(out, "**Example:**"), strings.Index(out, "what is the revenue?"))
}

func TestExtractFollowUpQuestionsJSON(t *testing.T) {
	raw := `{"questions": ["What drove growth?", "How about margins?", "Outlook?"]}`
	qs := ExtractFollowUpQuestions(raw)
	require.Len(t, qs, 3)
	assert.Equal(t, "What drove growth?", qs[0])
}

func TestExtractFollowUpQuestionsPlainLines(t *testing.T) {
	raw := "What drove growth?\n\nHow about margins?\nOutlook?\n"
	qs := ExtractFollowUpQuestions(raw)
	require.Len(t, qs, 3)
	assert.Equal(t, "Outlook?", qs[2])
}

func TestExtractFollowUpQuestionsEmpty(t *testing.T) {
	assert.Nil(t, ExtractFollowUpQuestions(""))
	assert.Nil(t, ExtractFollowUpQuestions("   \n  "))
}
