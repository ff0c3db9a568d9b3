package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// BraveProvider queries the Brave Search REST API. It is skipped (empty
// result) when no API key is configured.
type BraveProvider struct {
	apiKey string
	client *http.Client
}

func NewBrave(apiKey string, timeout time.Duration) *BraveProvider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &BraveProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *BraveProvider) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

func (p *BraveProvider) Search(ctx context.Context, query string, maxResults int) []string {
	if p.apiKey == "" {
		return nil
	}
	query = normaliseQuery(query)

	endpoint := fmt.Sprintf(
		"https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), maxResults,
	)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("brave search failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("brave search failed", "status", resp.StatusCode)
		return nil
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.Warn("brave search decode failed", "error", err)
		return nil
	}

	var urls []string
	for _, r := range parsed.Web.Results {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls
}
