// Package research is a personal research assistant core: a hybrid
// (lexical + vector) index over a typed node graph, an ingestion
// pipeline for web pages and local documents, a multi-provider web
// search chain, and an autonomous research agent that composes them.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/research-bot/research/agent"
	"github.com/research-bot/research/ingest"
	"github.com/research-bot/research/llm"
	"github.com/research-bot/research/scraper"
	"github.com/research-bot/research/store"
	"github.com/research-bot/research/websearch"
)

// Engine wires the store, ingestion pipeline, search chain, and agent
// together behind one entry point.
type Engine struct {
	cfg      Config
	store    *store.Store
	chat     llm.Provider
	embedder llm.Provider
	fetcher  *scraper.Fetcher
	pipeline *ingest.Pipeline
	chain    *websearch.Chain
}

// New opens (or creates) the workspace and database and constructs the
// engine. The caller owns Close.
func New(cfg Config) (*Engine, error) {
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("%w: embedding_dim must be positive", ErrInvalidConfig)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: chunk_overlap must be smaller than chunk_size", ErrInvalidConfig)
	}

	workspace := cfg.resolveWorkspace()
	if err := os.MkdirAll(filepath.Join(workspace, "content"), 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	s, err := store.New(cfg.DBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	chat, err := llm.NewProvider(llm.Config(cfg.Chat))
	if err != nil {
		s.Close()
		return nil, err
	}
	embedder, err := llm.NewProvider(llm.Config(cfg.Embedding))
	if err != nil {
		s.Close()
		return nil, err
	}

	fetcher := scraper.NewFetcher(cfg.RequestTimeout)
	pipeline := ingest.New(s, embedder, fetcher, cfg.ChunkSize, cfg.ChunkOverlap)

	chain := websearch.NewChain(
		websearch.NewBrave(cfg.BraveAPIKey, cfg.SearchProviderTimeout),
		websearch.NewSearXNG(cfg.SearXNGBaseURL, cfg.SearXNGInstanceTimeout),
		websearch.NewDuckDuckGo(cfg.SearchProviderTimeout, cfg.SearchRetryBaseDelay, cfg.SearchRetryMax),
	)

	slog.Info("engine ready", "workspace", workspace, "db", cfg.DBPath(), "embedding_dim", cfg.EmbeddingDim)

	return &Engine{
		cfg:      cfg,
		store:    s,
		chat:     chat,
		embedder: embedder,
		fetcher:  fetcher,
		pipeline: pipeline,
		chain:    chain,
	}, nil
}

// Store exposes the underlying graph store for node and edge access.
func (e *Engine) Store() *store.Store { return e.store }

// Close shuts the engine down.
func (e *Engine) Close() error { return e.store.Close() }

// IngestURL fetches and indexes a web page, returning the Source node.
func (e *Engine) IngestURL(ctx context.Context, url string) (*store.Node, error) {
	return e.pipeline.IngestURL(ctx, url)
}

// IngestPDF indexes a local PDF file, returning the Source node.
func (e *Engine) IngestPDF(ctx context.Context, path string) (*store.Node, error) {
	return e.pipeline.IngestPDF(ctx, path)
}

// IngestXLSX indexes a local spreadsheet, returning the Source node.
func (e *Engine) IngestXLSX(ctx context.Context, path string) (*store.Node, error) {
	return e.pipeline.IngestXLSX(ctx, path)
}

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchFuzzy    SearchMode = "fuzzy"    // lexical only
	SearchSemantic SearchMode = "semantic" // vector only
	SearchHybrid   SearchMode = "hybrid"   // RRF fusion of both
)

// Search runs retrieval over the knowledge base. A non-empty projectID
// scopes results to nodes reachable from that project.
func (e *Engine) Search(ctx context.Context, query string, mode SearchMode, k int, projectID string) ([]store.Node, error) {
	if k <= 0 {
		k = 10
	}

	scope, err := e.projectScope(ctx, projectID, store.ScopeDepthRetrieval)
	if err != nil {
		return nil, err
	}

	switch mode {
	case SearchFuzzy:
		return e.store.FTSSearch(ctx, query, k, scope)
	case SearchSemantic:
		vec, err := e.embedQuery(ctx, query)
		if err != nil {
			return nil, err
		}
		return e.store.VectorSearch(ctx, vec, k, scope)
	default:
		vec, err := e.embedQuery(ctx, query)
		if err != nil {
			// Embedder down. Degrade to lexical search.
			slog.Warn("embedder unavailable, falling back to lexical search", "error", err)
			return e.store.FTSSearch(ctx, query, k, scope)
		}
		return e.store.HybridSearch(ctx, query, vec, k, scope)
	}
}

// Research runs the autonomous agent for goal. The optional progress
// callback receives a state snapshot after every stage. When the run
// yields a report, the text is written under workspace/content/ and the
// Artifact node's content_path points at it.
func (e *Engine) Research(ctx context.Context, goal string, progress func(stage string, state agent.State)) (*agent.State, error) {
	runner := agent.NewRunner(e.store, e.chat, e.chain, e.pipeline, agent.Options{
		MaxIterations:     e.cfg.AgentMaxIterations,
		ScrapeConcurrency: e.cfg.AgentMaxConcurrentScrapes,
	})
	runner.Progress = progress

	state, err := runner.Run(ctx, goal)
	if err != nil {
		return state, err
	}

	if state.ArtifactID != "" {
		if err := e.writeArtifactFile(ctx, state.ArtifactID, state.Report); err != nil {
			slog.Warn("writing artifact file failed", "artifact_id", state.ArtifactID, "error", err)
		}
	}
	return state, nil
}

// writeArtifactFile persists report text under workspace/content/ and
// records the relative path on the node.
func (e *Engine) writeArtifactFile(ctx context.Context, nodeID, report string) error {
	rel := filepath.Join("content", nodeID+".md")
	abs := filepath.Join(e.cfg.resolveWorkspace(), rel)
	if err := os.WriteFile(abs, []byte(report), 0o644); err != nil {
		return err
	}
	_, err := e.store.UpdateNode(ctx, nodeID, map[string]any{"content_path": rel})
	return err
}

// CreateProject creates a Project node with the given title.
func (e *Engine) CreateProject(ctx context.Context, title string) (*store.Node, error) {
	return e.store.CreateProject(ctx, title)
}

// ListProjects returns all Project nodes.
func (e *Engine) ListProjects(ctx context.Context) ([]store.Node, error) {
	return e.store.ListProjects(ctx)
}

// LinkToProject attaches a node to a project with the given relation
// (HAS_SOURCE when relation is empty).
func (e *Engine) LinkToProject(ctx context.Context, projectID, nodeID, relation string) error {
	return e.store.LinkToProject(ctx, projectID, nodeID, relation)
}

// projectScope resolves the searchable id set for a project. An empty
// projectID means unscoped (nil); an unknown one is an error rather
// than a silent fall-through to the whole store.
func (e *Engine) projectScope(ctx context.Context, projectID string, depth int) ([]string, error) {
	if projectID == "" {
		return nil, nil
	}
	root, err := e.store.GetNode(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if root == nil || root.NodeType != store.TypeProject {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return e.store.ProjectScope(ctx, projectID, depth)
}

// Conversation fetches a Chat node by id.
func (e *Engine) Conversation(ctx context.Context, convID string) (*store.Node, error) {
	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, convID)
	}
	return conv, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty result", ErrEmbeddingFailed)
	}
	return vectors[0], nil
}
