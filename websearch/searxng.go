package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Public SearXNG instances rotated through when the configured base URL
// fails or returns nothing.
var searxngFallbackInstances = []string{
	"https://search.bus-hit.me",
	"https://searx.be",
	"https://paulgo.io",
	"https://searx.tiekoetter.com",
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/122.0.0.0 Safari/537.36"

// SearXNGProvider hits SearXNG JSON endpoints, trying the configured
// base URL first and then rotating through public fallback instances.
// The per-instance timeout is kept short so a dead instance fails fast.
type SearXNGProvider struct {
	baseURL   string
	instances []string
	client    *http.Client
}

func NewSearXNG(baseURL string, instanceTimeout time.Duration) *SearXNGProvider {
	if instanceTimeout == 0 {
		instanceTimeout = 5 * time.Second
	}
	return &SearXNGProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		instances: searxngFallbackInstances,
		client:    &http.Client{Timeout: instanceTimeout},
	}
}

func (p *SearXNGProvider) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		URL  string `json:"url"`
		Href string `json:"href"`
	} `json:"results"`
}

func (p *SearXNGProvider) Search(ctx context.Context, query string, maxResults int) []string {
	query = normaliseQuery(query)

	instances := make([]string, 0, len(p.instances)+1)
	if p.baseURL != "" {
		instances = append(instances, p.baseURL)
	}
	for _, inst := range p.instances {
		if strings.TrimRight(inst, "/") != p.baseURL {
			instances = append(instances, inst)
		}
	}

	for _, base := range instances {
		urls, err := p.queryInstance(ctx, base, query, maxResults)
		if err != nil {
			slog.Debug("searxng instance failed", "instance", base, "error", err)
			continue
		}
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func (p *SearXNGProvider) queryInstance(ctx context.Context, base, query string, maxResults int) ([]string, error) {
	endpoint := fmt.Sprintf(
		"%s/search?q=%s&format=json&engines=%s",
		base, url.QueryEscape(query), url.QueryEscape("google,bing,brave,duckduckgo"),
	)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	req.Header.Set("User-Agent", browserUA)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var urls []string
	for _, r := range parsed.Results {
		u := r.URL
		if u == "" {
			u = r.Href
		}
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) >= maxResults {
			break
		}
	}
	return urls, nil
}
