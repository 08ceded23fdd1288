package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modalbot/backend/pkg/logger"
)

const newsAPIURL = "https://newsapi.org/v2/everything"

type newsAPIResponse struct {
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// NewLatestNewsTool returns the NewsAPI-backed headline tool. Output is the
// top three articles as "N. [date] title" lines with the description
// indented underneath.
func NewLatestNewsTool(apiKey string, httpClient *http.Client) Descriptor {
	return newLatestNewsToolAt(newsAPIURL, apiKey, httpClient)
}

func newLatestNewsToolAt(baseURL, apiKey string, httpClient *http.Client) Descriptor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return Descriptor{
		Name:        "get_latest_news",
		Description: "Fetch latest news for a given topic using NewsAPI.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"topic": map[string]interface{}{
					"type":        "string",
					"description": "The news topic to look up.",
				},
			},
			"required": []string{"topic"},
		},
		Call: func(ctx context.Context, args map[string]interface{}, _ string) string {
			topic := stringArg(args, "topic")
			if topic == "" {
				return "Error: No topic provided."
			}
			if apiKey == "" {
				return "Error: NewsAPI key not configured."
			}

			params := url.Values{}
			params.Set("q", topic)
			params.Set("apiKey", apiKey)
			params.Set("sortBy", "publishedAt")
			params.Set("language", "en")
			params.Set("pageSize", "5")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
			if err != nil {
				return fmt.Sprintf("Error: failed to build NewsAPI request: %v", err)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Sprintf("Error: NewsAPI request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return fmt.Sprintf("Error: NewsAPI request failed (%d): %s", resp.StatusCode, string(body))
			}

			var data newsAPIResponse
			if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
				return fmt.Sprintf("Error: failed to parse NewsAPI response: %v", err)
			}

			if len(data.Articles) == 0 {
				return fmt.Sprintf("No recent news found for '%s'.", topic)
			}

			return formatNewsArticles(data)
		},
	}
}

// formatNewsArticles renders up to three articles, newest first.
func formatNewsArticles(data newsAPIResponse) string {
	limit := len(data.Articles)
	if limit > 3 {
		limit = 3
	}

	entries := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		a := data.Articles[i]
		pubDate := a.PublishedAt
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			pubDate = t.Format("2006-01-02")
		} else {
			logger.Debug("Unparseable article date", zap.String("published_at", a.PublishedAt))
		}
		entries = append(entries, fmt.Sprintf("%d. [%s] %s\n   %s", i+1, pubDate, a.Title, a.Description))
	}

	return strings.Join(entries, "\n\n")
}
