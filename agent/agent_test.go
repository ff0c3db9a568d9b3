package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/research-bot/research/llm"
	"github.com/research-bot/research/store"
)

const testDim = 8

// fakeLLM answers the planner prompt with canned queries and every other
// chat call with a canned report. Embed always fails so retrieval runs
// through the lexical fallback.
type fakeLLM struct {
	queries string
	report  string
	chatErr error

	mu      sync.Mutex
	chatLog []string
}

func (f *fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(prompt, "Search queries:") {
		f.chatLog = append(f.chatLog, "planner")
		return &llm.ChatResponse{Content: f.queries}, nil
	}
	f.chatLog = append(f.chatLog, "synthesiser")
	return &llm.ChatResponse{Content: f.report}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamDelta, error) {
	ch := make(chan llm.StreamDelta)
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedder offline")
}

// fakeSearcher returns a fixed URL set per query.
type fakeSearcher struct {
	byQuery map[string][]string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) []string {
	return f.byQuery[query]
}

// fakeIngestor records ingested URLs and optionally fails every call.
type fakeIngestor struct {
	mu     sync.Mutex
	urls   []string
	broken bool
}

func (f *fakeIngestor) IngestURL(ctx context.Context, url string) (*store.Node, error) {
	if f.broken {
		return nil, fmt.Errorf("fetch failed: %s", url)
	}
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	return &store.Node{
		ID:       "src-" + url,
		NodeType: store.TypeSource,
		Title:    "Page at " + url,
		Metadata: map[string]any{"word_count": 42},
	}, nil
}

func newTestRunner(t *testing.T, provider llm.Provider, search Searcher, ing Ingestor, opts Options) (*Runner, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), testDim)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewRunner(s, provider, search, ing, opts), s
}

func TestRunHappyPath(t *testing.T) {
	model := &fakeLLM{queries: "q1\nq2\nq3", report: "# Report"}
	search := &fakeSearcher{byQuery: map[string][]string{
		"q1": {"https://a.example", "https://b.example"},
		"q2": {"https://b.example", "https://c.example"},
		"q3": {"https://d.example"},
	}}
	ing := &fakeIngestor{}

	r, s := newTestRunner(t, model, search, ing, Options{MaxIterations: 5, ScrapeConcurrency: 10})
	ctx := context.Background()

	state, err := r.Run(ctx, "G")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Status != StatusDone {
		t.Errorf("status = %q, want %q", state.Status, StatusDone)
	}
	if state.Iteration != 1 {
		t.Errorf("iteration = %d, want 1", state.Iteration)
	}
	if state.Report == "" {
		t.Error("report is empty")
	}
	if len(state.Plan) != 3 {
		t.Errorf("plan = %v, want 3 queries", state.Plan)
	}
	// Four unique URLs across the three queries, all scraped.
	if len(state.URLsFound) != 4 {
		t.Errorf("urls_found = %v, want 4 unique", state.URLsFound)
	}
	if len(state.URLsScraped) != 4 {
		t.Errorf("urls_scraped = %v, want 4", state.URLsScraped)
	}
	for _, f := range state.Findings {
		if !strings.HasPrefix(f, "Ingested: '") {
			t.Errorf("finding %q lacks ingest summary format", f)
		}
	}

	if state.ArtifactID == "" {
		t.Fatal("no artifact recorded on state")
	}
	artifact, err := s.GetNode(ctx, state.ArtifactID)
	if err != nil || artifact == nil {
		t.Fatalf("artifact %q missing: %v", state.ArtifactID, err)
	}
	if artifact.NodeType != store.TypeArtifact {
		t.Errorf("artifact node type = %q", artifact.NodeType)
	}
	if artifact.Title != "Report: G" {
		t.Errorf("artifact title = %q", artifact.Title)
	}
	if goal, _ := artifact.Metadata["goal"].(string); goal != "G" {
		t.Errorf("artifact goal = %q", goal)
	}
	if n, _ := artifact.Metadata["sources_count"].(float64); int(n) != 4 {
		t.Errorf("sources_count = %v, want 4", artifact.Metadata["sources_count"])
	}

	// One planner call, one synthesiser call.
	if len(model.chatLog) != 2 || model.chatLog[0] != "planner" || model.chatLog[1] != "synthesiser" {
		t.Errorf("chat calls = %v", model.chatLog)
	}
}

func TestRunReplansThenTerminates(t *testing.T) {
	// The synthesiser has nothing to work with and writes nothing.
	model := &fakeLLM{queries: "q1\nq2", report: ""}
	search := &fakeSearcher{byQuery: map[string][]string{}} // every search empty
	ing := &fakeIngestor{broken: true}

	r, s := newTestRunner(t, model, search, ing, Options{MaxIterations: 3})
	ctx := context.Background()

	state, err := r.Run(ctx, "unfindable topic")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Status != StatusDone {
		t.Errorf("status = %q, want %q", state.Status, StatusDone)
	}
	if state.Iteration != 3 {
		t.Errorf("iteration = %d, want 3 (limit)", state.Iteration)
	}
	if len(state.Findings) != 0 {
		t.Errorf("findings = %v, want none", state.Findings)
	}
	if state.Report != "" {
		t.Errorf("report = %q, want empty", state.Report)
	}
	if state.ArtifactID != "" {
		t.Errorf("artifact %q created for a findings-free run", state.ArtifactID)
	}

	artifacts, listErr := s.ListNodes(ctx, store.TypeArtifact)
	if listErr != nil {
		t.Fatalf("ListNodes: %v", listErr)
	}
	if len(artifacts) != 0 {
		t.Errorf("found %d artifacts, want 0", len(artifacts))
	}
}

func TestRunEmitsStageProgress(t *testing.T) {
	model := &fakeLLM{queries: "q1", report: "# R"}
	search := &fakeSearcher{byQuery: map[string][]string{"q1": {"https://a.example"}}}
	r, _ := newTestRunner(t, model, search, &fakeIngestor{}, Options{})

	var stages []string
	r.Progress = func(stage string, state State) { stages = append(stages, stage) }

	if _, err := r.Run(context.Background(), "G"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"planner", "searcher", "scraper", "synthesiser", "evaluator"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %q, want %q", i, stages[i], want[i])
		}
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := newTestRunner(t, &fakeLLM{queries: "q"}, &fakeSearcher{}, &fakeIngestor{}, Options{})
	if _, err := r.Run(ctx, "G"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPlannerFallbackToGoal(t *testing.T) {
	model := &fakeLLM{chatErr: fmt.Errorf("model offline")}
	r, _ := newTestRunner(t, model, &fakeSearcher{}, &fakeIngestor{}, Options{MaxIterations: 1})

	state, err := r.Run(context.Background(), "the goal itself")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(state.Plan) != 1 || state.Plan[0] != "the goal itself" {
		t.Errorf("plan = %v, want the goal as sole query", state.Plan)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 80); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 100)
	if got := truncate(long, 80); len(got) != 80 {
		t.Errorf("truncated length = %d", len(got))
	}
}
