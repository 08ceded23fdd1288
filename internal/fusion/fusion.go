// Package fusion flattens the retrieved context of a query into the text
// block and message list sent to the answer model.
package fusion

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/modalbot/backend/internal/storage/models"
)

const (
	memoryContentLimit = 100
	chatContentLimit   = 150
)

// BuildContextText produces the single text summary of tool output, document
// hits, memory items and older chat matches. Empty sections render as "N/A"
// so the model can see which sources came up dry. Image and frame context is
// deliberately absent; it travels as binary blocks in AssembleMessages.
func BuildContextText(question, toolOutput string, docs []models.DocumentHit, memory []models.MemoryHit, chatHits []models.ChatHit) string {
	docSection := "N/A"
	if len(docs) > 0 {
		items := make([]string, 0, len(docs))
		for _, d := range docs {
			if d.Text == "" {
				continue
			}
			source := filepath.Base(d.SourceDoc)
			if source == "." || source == "" {
				source = "Unknown Document"
			}
			items = append(items, fmt.Sprintf("- [Source: %s] %s", source, d.Text))
		}
		if len(items) > 0 {
			docSection = strings.Join(items, "\n")
		}
	}

	memorySection := "N/A"
	if len(memory) > 0 {
		items := make([]string, 0, len(memory))
		for _, m := range memory {
			langSuffix := ""
			if m.Language != "" {
				langSuffix = fmt.Sprintf(" (%s)", m.Language)
			}
			items = append(items, fmt.Sprintf(
				"- [Memory Item | Type: %s%s | Original Query: '%s' | Sim: %.3f]\nContent: %s",
				m.Type, langSuffix, m.ContextQuery, m.Sim, truncate(m.Content, memoryContentLimit),
			))
		}
		memorySection = strings.Join(items, "\n")
	}

	chatSection := "N/A"
	if len(chatHits) > 0 {
		items := make([]string, 0, len(chatHits))
		for _, c := range chatHits {
			ts := "Unknown Time"
			if !c.Timestamp.IsZero() {
				ts = c.Timestamp.Format("2006-01-02 15:04")
			}
			items = append(items, fmt.Sprintf(
				"- [Chat History | Role: %s | Time: %s | Sim: %.3f]\nContent: %s",
				c.Role, ts, c.Sim, truncate(c.Content, chatContentLimit),
			))
		}
		chatSection = strings.Join(items, "\n")
	}

	toolSection := "N/A"
	if toolOutput != "" {
		toolSection = toolOutput
	}

	text := fmt.Sprintf(`ORIGINAL QUESTION:
%s

AVAILABLE CONTEXT:

[TOOL RESULTS]
%s

[DOCUMENT CONTEXT]
%s

[MEMORY BANK CONTEXT]
%s

[CHAT HISTORY SEARCH CONTEXT] (Older messages relevant to the query)
%s`, question, toolSection, docSection, memorySection, chatSection)

	return strings.TrimSpace(text)
}

// AssembleMessages builds the message list for the answer call: recent
// history turns oldest first, then one user message carrying image blocks,
// frame blocks, and the context text as its last block. The trailing text
// block is always present, even with no retrieved media.
func AssembleMessages(history []models.ChatTurn, contextText string, images []models.ImageHit, frames []models.FrameHit) []models.Message {
	messages := make([]models.Message, 0, len(history)+1)

	// history arrives newest first
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role == "" || turn.Content == "" {
			continue
		}
		messages = append(messages, models.Message{Role: turn.Role, Content: turn.Content})
	}

	blocks := make([]models.ContentBlock, 0, len(images)+len(frames)+1)
	for _, img := range images {
		if img.EncodedImage == "" {
			continue
		}
		blocks = append(blocks, models.ContentBlock{
			Type: models.BlockTypeImage,
			Source: &models.BlockSource{
				Type:      "base64",
				MediaType: "image/png",
				Data:      img.EncodedImage,
			},
		})
	}
	for _, frame := range frames {
		if frame.EncodedFrame == "" {
			continue
		}
		blocks = append(blocks, models.ContentBlock{
			Type: models.BlockTypeVideoFrame,
			Source: &models.BlockSource{
				Type:      "base64",
				MediaType: "image/png",
				Data:      frame.EncodedFrame,
			},
		})
	}
	blocks = append(blocks, models.ContentBlock{
		Type: models.BlockTypeText,
		Text: contextText,
	})

	messages = append(messages, models.Message{Role: "user", Blocks: blocks})
	return messages
}

// followUpTemplate carries a few-shot example; the model must answer with
// exactly three bare questions.
const followUpTemplate = `You are an expert assistant tasked with generating **exactly 3** relevant and concise follow-up questions based on an original user query and the provided answer. Focus *only* on the content provided.

**Instructions:**
1.  Read the <ORIGINAL_PROMPT_START> and <ANSWER_TEXT_START> sections carefully.
2.  Generate 3 distinct questions that logically follow from the information presented.
3.  The questions should encourage deeper exploration of the topic discussed.
4.  **Output ONLY the 3 questions**, one per line. Do NOT include numbering, bullet points, or any other text.

**Example:**

<ORIGINAL_PROMPT_START>
What are the main benefits of using a declarative data pipeline for AI workflows?
</ORIGINAL_PROMPT_END>

<ANSWER_TEXT_START>
A declarative pipeline simplifies AI workflows by providing automated data orchestration, native multimodal support (text, images, video, audio), and integrations with LLMs and ML models. It handles tasks like data versioning, incremental computation, and vector indexing automatically.
</ANSWER_TEXT_END>

How does the pipeline handle data versioning specifically?
Can you elaborate on incremental computation?
What specific LLMs and ML models does it integrate with?

**Now, generate questions for the following input:**

<ORIGINAL_PROMPT_START>
%s
</ORIGINAL_PROMPT_END>

<ANSWER_TEXT_START>
%s
</ANSWER_TEXT_END>`

// BuildFollowUpPrompt fills the follow-up template with the query and its
// answer.
func BuildFollowUpPrompt(originalPrompt, answerText string) string {
	return fmt.Sprintf(followUpTemplate, originalPrompt, answerText)
}

// FollowUpSchema is the JSON schema constraining the follow-up generation
// call.
var FollowUpSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"questions": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["questions"],
	"additionalProperties": false
}`)

// ExtractFollowUpQuestions parses the structured follow-up output. Plain
// newline-separated output is accepted as a fallback for models that ignore
// the schema.
func ExtractFollowUpQuestions(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return cleanQuestions(parsed.Questions)
	}

	return cleanQuestions(strings.Split(raw, "\n"))
}

func cleanQuestions(qs []string) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// truncate limits s to limit characters, not bytes, so multi-byte content
// is never cut mid-rune.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
