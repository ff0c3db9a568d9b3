// Package websearch provides web search across multiple providers with
// automatic failover: an API provider, a metasearch provider with
// instance rotation, and a scraping provider with retry.
package websearch

import (
	"context"
	"log/slog"
	"strings"
)

// Provider is a single search backend. Search returns a list of URLs
// and never fails: any error maps to an empty result so the chain can
// move on to the next provider.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) []string
}

// normaliseQuery strips surrounding double-quotes added by the planning
// LLM; some engines refuse quoted queries or return nothing.
func normaliseQuery(query string) string {
	q := strings.TrimSpace(query)
	if len(q) > 2 && strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`) {
		q = strings.TrimSpace(q[1 : len(q)-1])
	}
	return q
}

// Chain tries providers in order and returns the first non-empty
// result list.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Search(ctx context.Context, query string, maxResults int) []string {
	for _, p := range c.providers {
		urls := p.Search(ctx, query, maxResults)
		if len(urls) > 0 {
			slog.Debug("search provider succeeded", "provider", p.Name(), "results", len(urls))
			return urls
		}
	}
	slog.Warn("all search providers returned no results", "query", query)
	return nil
}
