package websearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. Rate-limit
// responses are retried with exponential backoff; any other error
// returns an empty result immediately.
type DuckDuckGoProvider struct {
	client     *http.Client
	baseURL    string
	baseDelay  time.Duration
	maxRetries int

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration) error
}

func NewDuckDuckGo(timeout, baseDelay time.Duration, maxRetries int) *DuckDuckGoProvider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	return &DuckDuckGoProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    "https://html.duckduckgo.com/html/",
		baseDelay:  baseDelay,
		maxRetries: maxRetries,
		sleep:      sleepCtx,
	}
}

func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) []string {
	query = normaliseQuery(query)

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		urls, err := p.fetchResults(ctx, query, maxResults)
		if err == nil {
			return urls
		}
		if !isRateLimit(err) {
			slog.Warn("duckduckgo search failed", "error", err)
			return nil
		}
		if attempt == p.maxRetries {
			slog.Warn("duckduckgo rate-limited, retries exhausted", "attempts", attempt+1)
			return nil
		}
		delay := p.baseDelay * (1 << attempt)
		slog.Debug("duckduckgo rate-limited, backing off", "attempt", attempt+1, "delay", delay)
		if err := p.sleep(ctx, delay); err != nil {
			return nil
		}
	}
	return nil
}

func (p *DuckDuckGoProvider) fetchResults(ctx context.Context, query string, maxResults int) ([]string, error) {
	endpoint := p.baseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("ratelimit: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	urls := parseResultLinks(string(body), maxResults)
	return urls, nil
}

// parseResultLinks extracts result URLs from the DuckDuckGo HTML page.
// Result anchors carry class "result__a"; their hrefs are redirect
// links whose uddg parameter holds the target URL.
func parseResultLinks(page string, maxResults int) []string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var urls []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(urls) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			if href := attr(n, "href"); href != "" {
				if target := resolveRedirect(href); target != "" && !seen[target] {
					seen[target] = true
					urls = append(urls, target)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return urls
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=... redirect links.
// Plain absolute hrefs pass through unchanged.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isRateLimit(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "ratelimit")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
