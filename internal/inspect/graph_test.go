package inspect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modalbot/backend/internal/catalog"
	"github.com/modalbot/backend/internal/pipeline"
)

type fakeSampler struct {
	counts map[string]int
	err    error
}

func (f *fakeSampler) SampleFieldErrors(_ context.Context, _ []string, _ int) (map[string]int, error) {
	return f.counts, f.err
}

func fullCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	require.NoError(t, pipeline.RegisterSchema(cat))
	return cat
}

func findEdges(g Graph, kind string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func findNode(g Graph, id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func TestBuildFrameViewEdgeLabeled(t *testing.T) {
	b := NewBuilder(fullCatalog(t), nil, nil)
	g := b.Build(context.Background())

	var frameEdges []Edge
	for _, e := range findEdges(g, "view") {
		if e.From == "table:agent.video_frames" {
			frameEdges = append(frameEdges, e)
		}
	}
	require.Len(t, frameEdges, 1)
	assert.Equal(t, "table:agent.videos", frameEdges[0].To)
	assert.Equal(t, "frame_iterator", frameEdges[0].Label)
}

func TestBuildQueryEdgesFromRecordTable(t *testing.T) {
	b := NewBuilder(fullCatalog(t), nil, nil)
	g := b.Build(context.Background())

	labels := make(map[string]string)
	for _, e := range findEdges(g, "query") {
		if e.From == "table:agent.query_records" {
			labels[e.Label] = e.To
		}
	}

	assert.Equal(t, "table:agent.chunks", labels["search_documents"])
	assert.Equal(t, "table:agent.images", labels["search_images"])
	assert.Equal(t, "table:agent.video_frames", labels["search_video_frames"])
	assert.Equal(t, "table:agent.memory_bank", labels["search_memory"])
	assert.Equal(t, "table:agent.chat_history", labels["search_chat_history"])
}

func TestBuildFieldDependencyEdges(t *testing.T) {
	b := NewBuilder(fullCatalog(t), nil, nil)
	g := b.Build(context.Background())

	var answerDeps []string
	for _, e := range findEdges(g, "dependency") {
		if e.From == "field:agent.query_records.answer" {
			answerDeps = append(answerDeps, e.To)
		}
	}
	assert.Equal(t, []string{"field:agent.query_records.final_response"}, answerDeps)
}

func TestBuildNoDerivedFieldsNoDependencyEdges(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(&catalog.Table{
		Path: "agent.plain",
		Columns: []catalog.Column{
			{Name: "a", Type: "string"},
			{Name: "b", Type: "int"},
		},
	}))

	g := NewBuilder(cat, nil, nil).Build(context.Background())
	assert.Empty(t, findEdges(g, "dependency"))
	assert.Len(t, g.Nodes, 3) // table + 2 fields
}

func TestBuildErrorCountsAttached(t *testing.T) {
	sampler := &fakeSampler{counts: map[string]int{"doc_context": 7}}
	g := NewBuilder(fullCatalog(t), sampler, nil).Build(context.Background())

	node, ok := findNode(g, "field:agent.query_records.doc_context")
	require.True(t, ok)
	assert.Equal(t, 7, node.ErrorCount)
}

func TestBuildSamplingFailureDegradesTableNode(t *testing.T) {
	sampler := &fakeSampler{err: errors.New("database is locked")}
	g := NewBuilder(fullCatalog(t), sampler, nil).Build(context.Background())

	node, ok := findNode(g, "table:agent.query_records")
	require.True(t, ok)
	assert.Equal(t, "database is locked", node.Error)

	// the rest of the graph still builds
	_, ok = findNode(g, "table:agent.chunks")
	assert.True(t, ok)
}

func TestClassifyExpressionStoplist(t *testing.T) {
	tools := map[string]struct{}{"get_latest_news": {}}

	c := classifyExpression(`format(model(config(search_documents(prompt))))`, tools)
	assert.Equal(t, catalog.KindQuery, c.Kind)
	assert.Equal(t, "search_documents", c.Name)
	assert.Equal(t, catalog.TableChunks, c.TargetTable)

	c = classifyExpression(`get_latest_news(topic)`, tools)
	assert.Equal(t, catalog.KindTool, c.Kind)

	c = classifyExpression(`strip(final_response)`, tools)
	assert.Equal(t, catalog.KindBuiltin, c.Kind)
	assert.Equal(t, "strip", c.Name)

	c = classifyExpression(`prompt + user_id`, tools)
	assert.Equal(t, catalog.KindUnclassified, c.Kind)
}

func TestExtractDependencies(t *testing.T) {
	cols := []string{"prompt", "tool_output", "doc_context", "answer"}
	deps := extractDependencies(`build_context(prompt, tool_output, something_else)`, cols)
	assert.Equal(t, []string{"prompt", "tool_output"}, deps)
}

func TestDetectIterator(t *testing.T) {
	assert.Equal(t, catalog.IteratorFrame, detectIterator([]string{"frame_idx", "pos_frame", "frame"}))
	assert.Equal(t, catalog.IteratorAudio, detectIterator([]string{"audio_chunk", "start_time_sec", "end_time_sec"}))
	assert.Equal(t, catalog.IteratorDocument, detectIterator([]string{"heading", "page", "title", "pos", "text"}))
	assert.Equal(t, catalog.IteratorString, detectIterator([]string{"text", "pos"}))
	assert.Equal(t, catalog.IteratorUnknown, detectIterator([]string{"foo"}))
}
