// Package catalog is the schema metadata registry: every table, view and
// column the system computes over, with typed lineage recorded at
// declaration time so the inspector never has to parse expression strings.
package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// DerivationKind classifies how a derived column gets its value.
type DerivationKind string

const (
	// KindBuiltin is a pure in-process function over sibling columns.
	KindBuiltin DerivationKind = "builtin"
	// KindTool is an external capability call (news, finance, ...).
	KindTool DerivationKind = "tool"
	// KindQuery is a cross-table retrieval call.
	KindQuery DerivationKind = "query"
	// KindUnclassified covers columns registered with only a raw
	// expression string; the inspector falls back to pattern matching.
	KindUnclassified DerivationKind = "unclassified"
)

// Derivation is the typed lineage of one derived column.
type Derivation struct {
	Kind DerivationKind `json:"kind"`
	// Name is the function/tool/query name.
	Name string `json:"name,omitempty"`
	// TargetTable is set for KindQuery: the table the query reads.
	TargetTable string `json:"target_table,omitempty"`
	// Inputs are sibling column names this column depends on.
	Inputs []string `json:"inputs,omitempty"`
	// Raw is the serialized expression, kept for display and as the
	// fallback input for unclassified columns.
	Raw string `json:"raw,omitempty"`
}

type Column struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Derived    bool        `json:"derived"`
	Derivation *Derivation `json:"derivation,omitempty"`
}

// IteratorKind labels how a view's rows are generated from its base.
type IteratorKind string

const (
	IteratorFrame    IteratorKind = "frame_iterator"
	IteratorAudio    IteratorKind = "audio_splitter"
	IteratorDocument IteratorKind = "document_splitter"
	IteratorString   IteratorKind = "string_splitter"
	IteratorUnknown  IteratorKind = "unknown"
)

type Table struct {
	Path     string       `json:"path"`
	IsView   bool         `json:"is_view"`
	Base     string       `json:"base,omitempty"`
	Iterator IteratorKind `json:"iterator,omitempty"`
	Columns  []Column     `json:"columns"`
	// OwnColumns lists view columns not inherited from the base; the
	// iterator detector works from these.
	OwnColumns []string `json:"own_columns,omitempty"`
	Indexes    []string `json:"indexes,omitempty"`
}

// Well-known table paths.
const (
	TableDocuments           = "agent.documents"
	TableChunks              = "agent.chunks"
	TableImages              = "agent.images"
	TableVideos              = "agent.videos"
	TableVideoFrames         = "agent.video_frames"
	TableVideoAudioChunks    = "agent.video_audio_chunks"
	TableVideoTranscripts    = "agent.video_transcript_sentences"
	TableAudios              = "agent.audios"
	TableAudioChunks         = "agent.audio_chunks"
	TableAudioTranscripts    = "agent.audio_transcript_sentences"
	TableMemoryBank          = "agent.memory_bank"
	TableChatHistory         = "agent.chat_history"
	TableUserPersonas        = "agent.user_personas"
	TableQueryRecords        = "agent.query_records"
)

// QueryTargets maps retrieval query names to the table they read.
var QueryTargets = map[string]string{
	"search_documents":         TableChunks,
	"search_images":            TableImages,
	"search_video_frames":      TableVideoFrames,
	"search_video_transcripts": TableVideoTranscripts,
	"search_audio_transcripts": TableAudioTranscripts,
	"search_memory":            TableMemoryBank,
	"search_chat_history":      TableChatHistory,
}

// Catalog is a process-wide registry, built once at startup and safe for
// concurrent readers.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string
}

func New() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

func (c *Catalog) Register(t *Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tables[t.Path]; exists {
		return fmt.Errorf("table %s already registered", t.Path)
	}
	if t.IsView && t.Base == "" {
		return fmt.Errorf("view %s has no base table", t.Path)
	}
	c.tables[t.Path] = t
	c.order = append(c.order, t.Path)
	return nil
}

func (c *Catalog) Get(path string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[path]
	return t, ok
}

// Tables returns every registered table in registration order.
func (c *Catalog) Tables() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, 0, len(c.order))
	for _, path := range c.order {
		out = append(out, c.tables[path])
	}
	return out
}

// ColumnNames returns the sorted column names of one table, for the
// dependency extractor's known-identifier set.
func (c *Catalog) ColumnNames(path string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[path]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	sort.Strings(names)
	return names
}
