package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/research-bot/research/llm"
	"github.com/research-bot/research/store"
)

const plannerPrompt = "You are a research assistant helping gather information on a topic.\n" +
	"Given the research goal below, generate exactly 3 specific, concise " +
	"search queries (one per line, no numbering, no bullets, no extra text) " +
	"that will help collect diverse and relevant sources.\n\n" +
	"Goal: %s\n\n" +
	"Search queries:"

// planner asks the chat model to decompose the goal into up to three
// queries. An unparseable response falls back to the goal itself.
func (r *Runner) planner(ctx context.Context, state *State) {
	state.Iteration++

	var queries []string
	resp, err := r.llm.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(plannerPrompt, state.Goal)}},
	})
	if err != nil {
		slog.Warn("planner LLM call failed, using goal as query", "error", err)
	} else {
		for _, line := range strings.Split(resp.Content, "\n") {
			if q := strings.TrimSpace(line); q != "" {
				queries = append(queries, q)
			}
			if len(queries) == 3 {
				break
			}
		}
	}
	if len(queries) == 0 {
		queries = []string{state.Goal}
	}

	slog.Info("planned queries", "iteration", state.Iteration, "queries", queries)
	state.Plan = queries
	state.Status = StatusSearching
}

// searcher runs the search chain for every planned query concurrently
// and collects URLs in first-seen order across all workers.
func (r *Runner) searcher(ctx context.Context, state *State) {
	results := make(chan string)

	var g errgroup.Group
	for _, query := range state.Plan {
		g.Go(func() error {
			for _, u := range r.search.Search(ctx, query, r.opts.SearchResults) {
				select {
				case results <- u:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	seen := make(map[string]bool, len(state.URLsFound))
	for _, u := range state.URLsFound {
		seen[u] = true
	}
	for u := range results {
		if !seen[u] {
			seen[u] = true
			state.URLsFound = append(state.URLsFound, u)
		}
	}

	slog.Info("search complete", "unique_urls", len(state.URLsFound))
	state.Status = StatusScraping
}

// scraper ingests up to ScrapeConcurrency not-yet-scraped URLs in
// parallel. Per-URL failures are logged and skipped.
func (r *Runner) scraper(ctx context.Context, state *State) {
	scraped := make(map[string]bool, len(state.URLsScraped))
	for _, u := range state.URLsScraped {
		scraped[u] = true
	}

	var batch []string
	for _, u := range state.URLsFound {
		if !scraped[u] {
			batch = append(batch, u)
		}
		if len(batch) == r.opts.ScrapeConcurrency {
			break
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, url := range batch {
		g.Go(func() error {
			node, err := r.ingestor.IngestURL(ctx, url)
			if err != nil {
				slog.Warn("scrape failed, skipping", "url", url, "error", err)
				return nil
			}
			summary := fmt.Sprintf("Ingested: '%s' (%v words)", node.Title, node.Metadata["word_count"])
			mu.Lock()
			state.URLsScraped = append(state.URLsScraped, url)
			state.Findings = append(state.Findings, summary)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	slog.Info("scrape pass complete", "scraped_total", len(state.URLsScraped))
	state.Status = StatusSynthesising
}

const synthesiserPrompt = "You are a research analyst tasked with writing a comprehensive report.\n\n" +
	"Research Goal: %s\n\n" +
	"Sources ingested:\n%s\n\n" +
	"Relevant excerpts from the knowledge base:\n%s\n\n" +
	"Write a well-structured, informative report in markdown format. " +
	"Include an introduction, key findings, and a conclusion."

// synthesiser retrieves relevant chunks for the goal and prompts the
// chat model for a markdown report.
func (r *Runner) synthesiser(ctx context.Context, state *State) {
	excerpts := r.retrieveContext(ctx, state.Goal)

	findings := strings.Join(state.Findings, "\n")
	if findings == "" {
		findings = "(no sources ingested)"
	}

	resp, err := r.llm.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(synthesiserPrompt, state.Goal, findings, excerpts),
		}},
	})
	if err != nil {
		slog.Warn("synthesiser LLM call failed", "error", err)
	} else {
		state.Report = resp.Content
	}

	state.Status = StatusEvaluating
}

// retrieveContext runs hybrid search over the whole store for the goal,
// degrading to lexical-only search when the embedder is unavailable.
func (r *Runner) retrieveContext(ctx context.Context, goal string) string {
	const topK = 5

	var nodes []store.Node
	vectors, err := r.llm.Embed(ctx, []string{goal})
	if err == nil && len(vectors) > 0 {
		nodes, err = r.store.HybridSearch(ctx, goal, vectors[0], topK, nil)
	}
	if err != nil || len(nodes) == 0 {
		nodes, err = r.store.FTSSearch(ctx, goal, topK, nil)
		if err != nil {
			slog.Warn("context retrieval failed", "error", err)
		}
	}
	if len(nodes) == 0 {
		return "No relevant content found in the knowledge base."
	}

	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		text, _ := n.Metadata["text"].(string)
		if text != "" {
			parts = append(parts, fmt.Sprintf("[%s] %s\n%s", n.NodeType, n.Title, text))
		} else {
			parts = append(parts, fmt.Sprintf("[%s] %s", n.NodeType, n.Title))
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// evaluator terminates the run when any findings exist or the iteration
// limit is reached; otherwise it routes back to the planner.
func (r *Runner) evaluator(state *State) {
	if len(state.Findings) > 0 || state.Iteration >= r.opts.MaxIterations {
		state.Status = StatusDone
		return
	}
	slog.Info("no findings yet, re-planning", "iteration", state.Iteration)
	state.Status = StatusRePlanning
}
