package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modalbot/backend/internal/llm"
	"github.com/modalbot/backend/internal/storage/models"
)

type memCache struct {
	entries map[string]string
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *memCache) Set(_ context.Context, key, value string) {
	m.sets++
	m.entries[key] = value
}

func TestRegistryExecuteJoinsOutputs(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Descriptor{
		Name: "a",
		Call: func(_ context.Context, _ map[string]interface{}, _ string) string { return "out-a" },
	})
	r.Register(Descriptor{
		Name: "b",
		Call: func(_ context.Context, _ map[string]interface{}, _ string) string { return "out-b" },
	})

	out := r.Execute(context.Background(), []llm.ToolCall{{Name: "a"}, {Name: "b"}}, "u1")
	assert.Equal(t, "out-a\n\nout-b", out)
}

func TestRegistryUnknownToolDegrades(t *testing.T) {
	r := NewRegistry(nil)

	out := r.Execute(context.Background(), []llm.ToolCall{{Name: "nope"}}, "u1")
	assert.Contains(t, out, "Error: unknown tool 'nope'.")
}

func TestRegistryPassesOwnerToTool(t *testing.T) {
	var seen []string
	r := NewRegistry(nil)
	r.Register(Descriptor{
		Name: "scoped",
		Call: func(_ context.Context, _ map[string]interface{}, owner string) string {
			seen = append(seen, owner)
			return "ok"
		},
	})

	call := []llm.ToolCall{{Name: "scoped"}}
	r.Execute(context.Background(), call, "alice")
	r.Execute(context.Background(), call, "bob")

	assert.Equal(t, []string{"alice", "bob"}, seen)
}

func TestRegistryCachesSuccessfulOutput(t *testing.T) {
	cache := newMemCache()
	calls := 0
	r := NewRegistry(cache)
	r.Register(Descriptor{
		Name: "counted",
		Call: func(_ context.Context, _ map[string]interface{}, _ string) string {
			calls++
			return "result"
		},
	})

	call := []llm.ToolCall{{Name: "counted", Arguments: map[string]interface{}{"q": "x"}}}
	r.Execute(context.Background(), call, "u1")
	r.Execute(context.Background(), call, "u1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.sets)
}

func TestRegistryCacheIsOwnerScoped(t *testing.T) {
	cache := newMemCache()
	calls := 0
	r := NewRegistry(cache)
	r.Register(Descriptor{
		Name: "counted",
		Call: func(_ context.Context, _ map[string]interface{}, owner string) string {
			calls++
			return "result for " + owner
		},
	})

	call := []llm.ToolCall{{Name: "counted", Arguments: map[string]interface{}{"q": "x"}}}
	assert.Equal(t, "result for alice", r.Execute(context.Background(), call, "alice"))
	assert.Equal(t, "result for bob", r.Execute(context.Background(), call, "bob"))
	assert.Equal(t, 2, calls)
}

func TestRegistryDoesNotCacheErrors(t *testing.T) {
	cache := newMemCache()
	r := NewRegistry(cache)
	r.Register(Descriptor{
		Name: "broken",
		Call: func(_ context.Context, _ map[string]interface{}, _ string) string { return "Error: upstream down" },
	})

	r.Execute(context.Background(), []llm.ToolCall{{Name: "broken"}}, "u1")
	assert.Zero(t, cache.sets)
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Descriptor{Name: "get_latest_news"})
	r.Register(Descriptor{Name: "fetch_financial_data"})

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "get_latest_news", defs[0].Name)
	assert.Equal(t, "fetch_financial_data", defs[1].Name)
}

func TestFormatNewsArticlesTopThree(t *testing.T) {
	var data newsAPIResponse
	for _, title := range []string{"first", "second", "third", "fourth"} {
		data.Articles = append(data.Articles, struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			PublishedAt string `json:"publishedAt"`
		}{Title: title, Description: "desc " + title, PublishedAt: "2026-08-29T10:00:00Z"})
	}

	out := formatNewsArticles(data)
	assert.Contains(t, out, "1. [2026-08-29] first")
	assert.Contains(t, out, "3. [2026-08-29] third")
	assert.NotContains(t, out, "fourth")
}

func TestLatestNewsToolMissingKey(t *testing.T) {
	tool := NewLatestNewsTool("", nil)
	out := tool.Call(context.Background(), map[string]interface{}{"topic": "ai"}, "u1")
	assert.Equal(t, "Error: NewsAPI key not configured.", out)
}

func TestLatestNewsToolAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ai", r.URL.Query().Get("q"))
		w.Write([]byte(`{"articles":[{"title":"Model ships","description":"A new model","publishedAt":"2026-08-28T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	tool := newLatestNewsToolAt(srv.URL, "key", srv.Client())
	out := tool.Call(context.Background(), map[string]interface{}{"topic": "ai"}, "u1")
	assert.Contains(t, out, "1. [2026-08-28] Model ships")
}

func TestFormatNewsResultsNAFallback(t *testing.T) {
	out := formatNewsResults([]newsResult{{Title: "Story", URL: "https://example.com"}})
	assert.Contains(t, out, "1. Title: Story")
	assert.Contains(t, out, "Source: N/A")
	assert.Contains(t, out, "Published: N/A")
	assert.Contains(t, out, "URL: https://example.com")
}

func TestResolveRedirect(t *testing.T) {
	link := "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fstory&rut=abc"
	assert.Equal(t, "https://example.com/story", resolveRedirect(link))
	assert.Equal(t, "https://direct.example.com", resolveRedirect("https://direct.example.com"))
}

func TestFormatQuote(t *testing.T) {
	price := 425.52
	cap := 3.2e12
	yield := 0.0072
	q := yahooQuote{
		ShortName:          "Microsoft Corporation",
		Symbol:             "msft",
		QuoteType:          "EQUITY",
		Currency:           "USD",
		RegularMarketPrice: &price,
		MarketCap:          &cap,
		DividendYield:      &yield,
	}

	out := formatQuote(q, "MSFT")
	assert.True(t, strings.HasPrefix(out, "Financial Summary for Microsoft Corporation (MSFT) - EQUITY"))
	assert.Contains(t, out, strings.Repeat("-", 40))
	assert.Contains(t, out, "Current Price: 425.52 USD")
	assert.Contains(t, out, "Market Cap: 3200.00B")
	assert.Contains(t, out, "Dividend Yield: 0.72%")
	assert.NotContains(t, out, "Trailing P/E")
}

type fakeTranscripts struct {
	hits      []models.TranscriptHit
	err       error
	lastOwner string
}

func (f *fakeTranscripts) SearchVideoTranscripts(_ context.Context, _, owner string) ([]models.TranscriptHit, error) {
	f.lastOwner = owner
	return f.hits, f.err
}

func (f *fakeTranscripts) SearchAudioTranscripts(_ context.Context, _, owner string) ([]models.TranscriptHit, error) {
	f.lastOwner = owner
	return f.hits, f.err
}

func TestTranscriptToolFormatting(t *testing.T) {
	searcher := &fakeTranscripts{hits: []models.TranscriptHit{
		{Text: "we shipped the feature", Source: "demo.mp4", StartSec: 42.5, Sim: 0.91},
	}}
	tool := NewVideoTranscriptTool(searcher)

	out := tool.Call(context.Background(), map[string]interface{}{"query_text": "shipping"}, "local_user")
	assert.Equal(t, "1. [demo.mp4 @ 42.5s] we shipped the feature", out)
}

func TestTranscriptToolScopedToCallingUser(t *testing.T) {
	searcher := &fakeTranscripts{}
	r := NewRegistry(nil)
	r.Register(NewVideoTranscriptTool(searcher))
	r.Register(NewAudioTranscriptTool(searcher))

	args := map[string]interface{}{"query_text": "roadmap"}
	r.Execute(context.Background(), []llm.ToolCall{{Name: "search_video_transcripts", Arguments: args}}, "u42")
	assert.Equal(t, "u42", searcher.lastOwner)

	r.Execute(context.Background(), []llm.ToolCall{{Name: "search_audio_transcripts", Arguments: args}}, "u7")
	assert.Equal(t, "u7", searcher.lastOwner)
}

func TestTranscriptToolEmptyAndMissingArgs(t *testing.T) {
	tool := NewAudioTranscriptTool(&fakeTranscripts{})

	assert.Equal(t, "Error: No query text provided.", tool.Call(context.Background(), nil, "local_user"))
	out := tool.Call(context.Background(), map[string]interface{}{"query_text": "anything"}, "local_user")
	assert.Equal(t, "No audio transcripts matched 'anything'.", out)
}
