package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modalbot/backend/pkg/logger"
)

const yahooQuoteURL = "https://query1.finance.yahoo.com/v7/finance/quote"

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuote `json:"result"`
	} `json:"quoteResponse"`
}

type yahooQuote struct {
	ShortName                  string   `json:"shortName"`
	LongName                   string   `json:"longName"`
	Symbol                     string   `json:"symbol"`
	FullExchangeName           string   `json:"fullExchangeName"`
	QuoteType                  string   `json:"quoteType"`
	Currency                   string   `json:"currency"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
	RegularMarketOpen          *float64 `json:"regularMarketOpen"`
	RegularMarketDayLow        *float64 `json:"regularMarketDayLow"`
	RegularMarketDayHigh       *float64 `json:"regularMarketDayHigh"`
	RegularMarketVolume        *float64 `json:"regularMarketVolume"`
	MarketCap                  *float64 `json:"marketCap"`
	TrailingPE                 *float64 `json:"trailingPE"`
	ForwardPE                  *float64 `json:"forwardPE"`
	DividendYield              *float64 `json:"trailingAnnualDividendYield"`
	FiftyTwoWeekLow            *float64 `json:"fiftyTwoWeekLow"`
	FiftyTwoWeekHigh           *float64 `json:"fiftyTwoWeekHigh"`
	AverageDailyVolume10Day    *float64 `json:"averageDailyVolume10Day"`
}

// NewFinancialDataTool returns the stock quote summary tool.
func NewFinancialDataTool(httpClient *http.Client) Descriptor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return Descriptor{
		Name:        "fetch_financial_data",
		Description: "Fetch financial summary data for a given company ticker.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"ticker": map[string]interface{}{
					"type":        "string",
					"description": "The stock ticker symbol, e.g. MSFT.",
				},
			},
			"required": []string{"ticker"},
		},
		Call: func(ctx context.Context, args map[string]interface{}, _ string) string {
			ticker := stringArg(args, "ticker")
			if ticker == "" {
				return "Error: No ticker symbol provided."
			}

			params := url.Values{}
			params.Set("symbols", ticker)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, yahooQuoteURL+"?"+params.Encode(), nil)
			if err != nil {
				return fmt.Sprintf("Error: failed to build quote request: %v", err)
			}
			req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Sprintf("Error: quote request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Sprintf("Error: quote request failed (%d) for ticker '%s'.", resp.StatusCode, ticker)
			}

			var data yahooQuoteResponse
			if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
				return fmt.Sprintf("Error: failed to parse quote response: %v", err)
			}

			if len(data.QuoteResponse.Result) == 0 {
				return fmt.Sprintf("Error: No data found for ticker '%s'. It might be delisted or incorrect.", ticker)
			}

			logger.Debug("Financial data fetched", zap.String("ticker", ticker))
			return formatQuote(data.QuoteResponse.Result[0], ticker)
		},
	}
}

func formatQuote(q yahooQuote, ticker string) string {
	name := q.ShortName
	if name == "" {
		name = q.LongName
	}
	if name == "" {
		name = ticker
	}
	symbol := q.Symbol
	if symbol == "" {
		symbol = ticker
	}
	quoteType := q.QuoteType
	if quoteType == "" {
		quoteType = "N/A"
	}

	lines := []string{
		fmt.Sprintf("Financial Summary for %s (%s) - %s", name, strings.ToUpper(symbol), quoteType),
		strings.Repeat("-", 40),
	}

	appendLine := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", label, value))
		}
	}

	appendLine("Exchange", q.FullExchangeName)
	appendLine("Currency", q.Currency)
	appendLine("Current Price", formatPrice(q.RegularMarketPrice, q.Currency))
	appendLine("Previous Close", formatPrice(q.RegularMarketPreviousClose, q.Currency))
	appendLine("Open", formatPrice(q.RegularMarketOpen, q.Currency))
	appendLine("Day Low", formatPrice(q.RegularMarketDayLow, q.Currency))
	appendLine("Day High", formatPrice(q.RegularMarketDayHigh, q.Currency))
	appendLine("Volume", formatMagnitude(q.RegularMarketVolume))
	appendLine("Market Cap", formatMagnitude(q.MarketCap))
	appendLine("Trailing P/E", formatRatio(q.TrailingPE))
	appendLine("Forward P/E", formatRatio(q.ForwardPE))
	appendLine("Dividend Yield", formatPercent(q.DividendYield))
	appendLine("52 Week Low", formatPrice(q.FiftyTwoWeekLow, q.Currency))
	appendLine("52 Week High", formatPrice(q.FiftyTwoWeekHigh, q.Currency))
	appendLine("Avg Volume (10 day)", formatMagnitude(q.AverageDailyVolume10Day))

	return strings.Join(lines, "\n")
}

func formatPrice(v *float64, currency string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%.2f %s", *v, currency))
}

func formatMagnitude(v *float64) string {
	if v == nil {
		return ""
	}
	switch n := *v; {
	case n > 1e9:
		return fmt.Sprintf("%.2fB", n/1e9)
	case n > 1e6:
		return fmt.Sprintf("%.2fM", n/1e6)
	case n > 1e3:
		return fmt.Sprintf("%.2fK", n/1e3)
	default:
		return fmt.Sprintf("%.0f", n)
	}
}

func formatRatio(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatPercent(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f%%", *v*100)
}
