package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/modalbot/backend/pkg/logger"
)

const ddgNewsURL = "https://html.duckduckgo.com/html/"

type newsResult struct {
	Title     string
	Source    string
	Published string
	URL       string
	Snippet   string
}

// NewSearchNewsTool returns the DuckDuckGo news search tool. Results are
// scraped from the HTML endpoint and rendered as numbered entries.
func NewSearchNewsTool(maxResults int, httpClient *http.Client) Descriptor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	return Descriptor{
		Name:        "search_news",
		Description: "Search recent news using DuckDuckGo and return results.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"keywords": map[string]interface{}{
					"type":        "string",
					"description": "Keywords to search news for.",
				},
			},
			"required": []string{"keywords"},
		},
		Call: func(ctx context.Context, args map[string]interface{}, _ string) string {
			keywords := stringArg(args, "keywords")
			if keywords == "" {
				return "Error: No keywords provided."
			}

			results, err := scrapeNews(ctx, httpClient, keywords, maxResults)
			if err != nil {
				logger.Warn("News search failed", zap.String("keywords", keywords), zap.Error(err))
				return fmt.Sprintf("Search failed: %v.", err)
			}
			if len(results) == 0 {
				return "No news results found."
			}

			return formatNewsResults(results)
		},
	}
}

func scrapeNews(ctx context.Context, httpClient *http.Client, keywords string, maxResults int) ([]newsResult, error) {
	form := url.Values{}
	form.Set("q", keywords+" news")
	form.Set("df", "m")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ddgNewsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	results := make([]newsResult, 0, maxResults)
	doc.Find("div.result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		title := strings.TrimSpace(s.Find("a.result__a").Text())
		link, _ := s.Find("a.result__a").Attr("href")
		snippet := strings.TrimSpace(s.Find("a.result__snippet").Text())
		source := strings.TrimSpace(s.Find("span.result__url").Text())
		published := strings.TrimSpace(s.Find("span.result__timestamp").Text())

		if title == "" || link == "" {
			return true
		}

		results = append(results, newsResult{
			Title:     title,
			Source:    source,
			Published: published,
			URL:       resolveRedirect(link),
			Snippet:   snippet,
		})
		return len(results) < maxResults
	})

	logger.Debug("News search completed", zap.Int("results", len(results)))
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return link
}

func formatNewsResults(results []newsResult) string {
	entries := make([]string, 0, len(results))
	for i, r := range results {
		entries = append(entries, fmt.Sprintf(
			"%d. Title: %s\n   Source: %s\n   Published: %s\n   URL: %s\n   Snippet: %s\n",
			i+1, orNA(r.Title), orNA(r.Source), orNA(r.Published), orNA(r.URL), orNA(r.Snippet),
		))
	}
	return strings.Join(entries, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
