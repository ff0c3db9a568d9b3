package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/research-bot/research/llm"
	"github.com/research-bot/research/store"
)

// Searcher is the web-search chain contract: a list of URLs, empty on
// any failure.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []string
}

// Ingestor feeds a URL through the ingestion pipeline.
type Ingestor interface {
	IngestURL(ctx context.Context, url string) (*store.Node, error)
}

// Options bound a research run.
type Options struct {
	MaxIterations     int // loop limit, default 5
	ScrapeConcurrency int // URLs ingested per scraper pass, default 3
	SearchResults     int // URLs requested per query, default 5
}

func (o *Options) normalise() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 5
	}
	if o.ScrapeConcurrency <= 0 {
		o.ScrapeConcurrency = 3
	}
	if o.SearchResults <= 0 {
		o.SearchResults = 5
	}
}

// Runner drives the plan → search → scrape → synthesise → evaluate
// loop and persists the finished report as an Artifact node.
type Runner struct {
	store    *store.Store
	llm      llm.Provider
	search   Searcher
	ingestor Ingestor
	opts     Options

	// Progress, when set, is called after every stage with a snapshot
	// of the state. Used by callers that stream run progress.
	Progress func(stage string, state State)
}

func NewRunner(s *store.Store, provider llm.Provider, search Searcher, ingestor Ingestor, opts Options) *Runner {
	opts.normalise()
	return &Runner{
		store:    s,
		llm:      provider,
		search:   search,
		ingestor: ingestor,
		opts:     opts,
	}
}

// Run executes the research loop for goal and returns the final state.
// When the run produced a non-empty report, an Artifact node is created
// and its id recorded in the state.
func (r *Runner) Run(ctx context.Context, goal string) (*State, error) {
	state := newState(goal)

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		r.planner(ctx, state)
		r.emit("planner", state)

		r.searcher(ctx, state)
		r.emit("searcher", state)

		r.scraper(ctx, state)
		r.emit("scraper", state)

		r.synthesiser(ctx, state)
		r.emit("synthesiser", state)

		r.evaluator(state)
		r.emit("evaluator", state)

		if state.Status == StatusDone {
			break
		}
	}

	if state.Report != "" {
		artifact, err := r.store.CreateNode(ctx, store.NewNode{
			NodeType: store.TypeArtifact,
			Title:    "Report: " + truncate(goal, 80),
			Metadata: map[string]any{
				"goal":          goal,
				"iterations":    state.Iteration,
				"sources_count": len(state.URLsScraped),
			},
		})
		if err != nil {
			return state, fmt.Errorf("saving report artifact: %w", err)
		}
		if err := r.store.SetContentBody(ctx, artifact.ID, state.Report); err != nil {
			return state, fmt.Errorf("indexing report artifact: %w", err)
		}
		state.ArtifactID = artifact.ID
		slog.Info("research run complete", "goal", goal, "artifact_id", artifact.ID,
			"iterations", state.Iteration, "sources", len(state.URLsScraped))
	} else {
		slog.Info("research run produced no report", "goal", goal, "iterations", state.Iteration)
	}

	return state, nil
}

func (r *Runner) emit(stage string, state *State) {
	if r.Progress != nil {
		r.Progress(stage, *state)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
