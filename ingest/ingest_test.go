package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/research-bot/research/scraper"
	"github.com/research-bot/research/store"
)

const testDim = 8

// fakeEmbedder returns deterministic vectors, or fails after a given
// number of calls.
type fakeEmbedder struct {
	calls    int
	failFrom int // 0 = never fail
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return nil, fmt.Errorf("embedder down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, testDim)
		for j := range vec {
			vec[j] = float32(len(texts[i])%7) + float32(j)*0.25
		}
		out[i] = vec
	}
	return out, nil
}

func newTestPipeline(t *testing.T, embedder Embedder) (*Pipeline, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), testDim)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fetcher := scraper.NewFetcher(5 * time.Second)
	return New(s, embedder, fetcher, 200, 30), s
}

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func articlePage(text string) string {
	return "<html><head><title>Test Article</title></head><body><article><p>" +
		text + "</p></article></body></html>"
}

func TestIngestURLAndFind(t *testing.T) {
	text := "The zygomorphic flower structure appears in orchids. " +
		strings.Repeat("Petals arrange along a single plane of symmetry. ", 20)
	srv := servePage(t, articlePage(text))

	p, s := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	source, err := p.IngestURL(ctx, srv.URL)
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	if source.NodeType != store.TypeSource {
		t.Errorf("node type = %q", source.NodeType)
	}
	if url, _ := source.Metadata["url"].(string); url != srv.URL {
		t.Errorf("metadata url = %q", url)
	}
	if wc, _ := source.Metadata["word_count"].(float64); wc == 0 {
		t.Error("word_count missing")
	}

	// The unique token is findable, resolving to the source or one of
	// its chunks.
	results, err := s.FTSSearch(ctx, "zygomorphic", 10, nil)
	if err != nil {
		t.Fatalf("FTSSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("ingested token not found")
	}
	for _, n := range results {
		switch n.NodeType {
		case store.TypeSource:
			if n.ID != source.ID {
				t.Errorf("found unrelated source %q", n.ID)
			}
		case store.TypeChunk:
			if sid, _ := n.Metadata["source_id"].(string); sid != source.ID {
				t.Errorf("found chunk of unrelated source %q", sid)
			}
		default:
			t.Errorf("unexpected node type %q in results", n.NodeType)
		}
	}
}

func TestIngestURLChunksWiredInOrder(t *testing.T) {
	text := strings.Repeat("Chunking needs enough text to produce several pieces. ", 40)
	srv := servePage(t, articlePage(text))

	p, s := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	source, err := p.IngestURL(ctx, srv.URL)
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}

	edges, err := s.GetEdges(ctx, source.ID)
	if err != nil {
		t.Fatalf("GetEdges: %v", err)
	}
	if len(edges) < 2 {
		t.Fatalf("expected multiple chunks, got %d edges", len(edges))
	}

	indexes := map[int]bool{}
	for _, e := range edges {
		if e.RelationType != store.RelHasChunk {
			t.Errorf("relation = %q", e.RelationType)
		}
		chunk, err := s.GetNode(ctx, e.TargetID)
		if err != nil || chunk == nil {
			t.Fatalf("chunk %q missing: %v", e.TargetID, err)
		}
		idx, _ := chunk.Metadata["chunk_index"].(float64)
		indexes[int(idx)] = true

		if text, _ := chunk.Metadata["text"].(string); text == "" {
			t.Error("chunk text missing from metadata")
		}
		has, err := s.HasEmbedding(ctx, chunk.ID)
		if err != nil || !has {
			t.Errorf("chunk %q has no embedding", chunk.ID)
		}
	}

	// Indexes are dense from zero.
	for i := 0; i < len(edges); i++ {
		if !indexes[i] {
			t.Errorf("missing chunk_index %d", i)
		}
	}
}

func TestIngestEmbedFailureAborts(t *testing.T) {
	text := strings.Repeat("Any embedding failure must abort the whole ingest. ", 40)
	srv := servePage(t, articlePage(text))

	// First chunk embeds fine, second fails.
	p, _ := newTestPipeline(t, &fakeEmbedder{failFrom: 2})

	if _, err := p.IngestURL(context.Background(), srv.URL); err == nil {
		t.Fatal("expected ingest to fail on embed error")
	}
}

func TestIngestURLFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, &fakeEmbedder{})
	if _, err := p.IngestURL(context.Background(), srv.URL); err == nil {
		t.Fatal("expected fetch failure to surface")
	}
}

func TestExtractXLSXMissingFile(t *testing.T) {
	if _, err := extractXLSX(filepath.Join(t.TempDir(), "nope.xlsx")); err == nil {
		t.Error("expected error for missing workbook")
	}
}

func TestExtractPDFMissingFile(t *testing.T) {
	if _, err := extractPDF(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Error("expected error for missing PDF")
	}
}
