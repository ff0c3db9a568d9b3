// Package ingest turns external content (web pages, PDFs, spreadsheets)
// into Source and Chunk nodes with lexical and vector index rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/research-bot/research/chunker"
	"github.com/research-bot/research/scraper"
	"github.com/research-bot/research/store"
)

// Embedder produces dense vectors for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline is the fetch → extract → chunk → embed → persist flow.
type Pipeline struct {
	store     *store.Store
	embedder  Embedder
	fetcher   *scraper.Fetcher
	chunkSize int
	overlap   int
}

func New(s *store.Store, e Embedder, f *scraper.Fetcher, chunkSize, overlap int) *Pipeline {
	return &Pipeline{
		store:     s,
		embedder:  e,
		fetcher:   f,
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// IngestURL fetches a web page, extracts its readable text, and persists
// a Source node with embedded chunks. Fetch or extract failure aborts
// the ingest.
func (p *Pipeline) IngestURL(ctx context.Context, url string) (*store.Node, error) {
	raw, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	page, err := scraper.Extract(raw)
	if err != nil {
		return nil, err
	}

	title := page.Title
	if title == "" {
		title = url
	}

	meta := map[string]any{
		"url":         url,
		"word_count":  len(strings.Fields(page.Text)),
		"links_count": len(page.Links),
	}

	source, err := p.persist(ctx, title, page.Text, meta)
	if err != nil {
		return nil, err
	}

	slog.Info("ingested URL", "url", url, "source_id", source.ID, "words", meta["word_count"])
	return source, nil
}

// IngestPDF extracts text from a local PDF page by page and persists a
// Source node with embedded chunks.
func (p *Pipeline) IngestPDF(ctx context.Context, path string) (*store.Node, error) {
	text, err := extractPDF(path)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"path":        path,
		"word_count":  len(strings.Fields(text)),
		"source_type": "pdf",
	}

	source, err := p.persist(ctx, filepath.Base(path), text, meta)
	if err != nil {
		return nil, err
	}

	slog.Info("ingested PDF", "path", path, "source_id", source.ID, "words", meta["word_count"])
	return source, nil
}

// IngestXLSX extracts every sheet of a local workbook as pipe-delimited
// rows and persists a Source node with embedded chunks.
func (p *Pipeline) IngestXLSX(ctx context.Context, path string) (*store.Node, error) {
	text, err := extractXLSX(path)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"path":        path,
		"word_count":  len(strings.Fields(text)),
		"source_type": "xlsx",
	}

	source, err := p.persist(ctx, filepath.Base(path), text, meta)
	if err != nil {
		return nil, err
	}

	slog.Info("ingested XLSX", "path", path, "source_id", source.ID, "words", meta["word_count"])
	return source, nil
}

// persist is the shared tail of every ingest: Source node, full-text
// index row, then chunk/embed/link in ascending chunk order. Any embed
// failure aborts the whole ingest so a Source never ends up with a
// partial chunk set.
func (p *Pipeline) persist(ctx context.Context, title, text string, metadata map[string]any) (*store.Node, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingest: no text to persist for %q", title)
	}

	source, err := p.store.CreateNode(ctx, store.NewNode{
		NodeType: store.TypeSource,
		Title:    title,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("creating source node: %w", err)
	}

	if err := p.store.SetContentBody(ctx, source.ID, text); err != nil {
		return nil, fmt.Errorf("indexing source text: %w", err)
	}

	chunks := chunker.Chunk(text, p.chunkSize, p.overlap)
	for i, chunkText := range chunks {
		vectors, err := p.embedder.Embed(ctx, []string{chunkText})
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d of %q: %w", i, title, err)
		}
		if len(vectors) == 0 {
			return nil, fmt.Errorf("embedding chunk %d of %q: empty result", i, title)
		}

		chunk, err := p.store.CreateNode(ctx, store.NewNode{
			NodeType: store.TypeChunk,
			Title:    fmt.Sprintf("%s [%d]", title, i),
			Metadata: map[string]any{
				"source_id":   source.ID,
				"chunk_index": i,
				"text":        chunkText,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("creating chunk %d: %w", i, err)
		}
		if err := p.store.SetContentBody(ctx, chunk.ID, chunkText); err != nil {
			return nil, fmt.Errorf("indexing chunk %d: %w", i, err)
		}
		if err := p.store.InsertEmbedding(ctx, chunk.ID, vectors[0]); err != nil {
			return nil, fmt.Errorf("storing embedding for chunk %d: %w", i, err)
		}
		if err := p.store.ConnectNodes(ctx, source.ID, chunk.ID, store.RelHasChunk); err != nil {
			return nil, fmt.Errorf("linking chunk %d: %w", i, err)
		}
	}

	return source, nil
}
