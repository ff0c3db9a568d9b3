package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

const testDim = 8

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), testDim)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, n NewNode) *Node {
	t.Helper()
	node, err := s.CreateNode(context.Background(), n)
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}
	return node
}

func testVec(seed float32) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = seed + float32(i)*0.1
	}
	return v
}

func TestCreateAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node := mustCreate(t, s, NewNode{
		NodeType: TypeSource,
		Title:    "Battery basics",
		Metadata: map[string]any{"url": "https://example.com/battery"},
	})

	if node.ID == "" {
		t.Fatal("expected a generated id")
	}
	if node.CreatedAt == 0 || node.UpdatedAt == 0 {
		t.Error("expected timestamps to be set")
	}

	got, err := s.GetNode(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got == nil {
		t.Fatal("expected node, got nil")
	}
	if got.Title != "Battery basics" || got.NodeType != TypeSource {
		t.Errorf("got %q/%q, want Battery basics/Source", got.Title, got.NodeType)
	}
	if url, _ := got.Metadata["url"].(string); url != "https://example.com/battery" {
		t.Errorf("metadata url = %q", url)
	}
}

func TestGetNodeMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetNode(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing node, got %+v", got)
	}
}

func TestCreateNodeExplicitID(t *testing.T) {
	s := newTestStore(t)

	node := mustCreate(t, s, NewNode{ID: "fixed-id", NodeType: TypeConcept, Title: "c"})
	if node.ID != "fixed-id" {
		t.Errorf("id = %q, want fixed-id", node.ID)
	}
}

func TestUpdateNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node := mustCreate(t, s, NewNode{NodeType: TypeSource, Title: "old"})

	updated, err := s.UpdateNode(ctx, node.ID, map[string]any{
		"title":    "new",
		"metadata": map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}
	if updated.Title != "new" {
		t.Errorf("title = %q, want new", updated.Title)
	}
	if v, _ := updated.Metadata["k"].(string); v != "v" {
		t.Errorf("metadata k = %q, want v", v)
	}
}

func TestUpdateNodeErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	node := mustCreate(t, s, NewNode{NodeType: TypeSource, Title: "t"})

	if _, err := s.UpdateNode(ctx, node.ID, map[string]any{"bogus": 1}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field: got %v, want ErrUnknownField", err)
	}
	if _, err := s.UpdateNode(ctx, node.ID, nil); !errors.Is(err, ErrNoFields) {
		t.Errorf("no fields: got %v, want ErrNoFields", err)
	}
	if _, err := s.UpdateNode(ctx, "missing", map[string]any{"title": "x"}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("missing node: got %v, want ErrNodeNotFound", err)
	}
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, NewNode{NodeType: TypeConcept, Title: "A"})
	b := mustCreate(t, s, NewNode{NodeType: TypeConcept, Title: "B"})

	if err := s.ConnectNodes(ctx, a.ID, b.ID, "related"); err != nil {
		t.Fatalf("ConnectNodes: %v", err)
	}

	if err := s.DeleteNode(ctx, a.ID); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}

	edges, err := s.GetEdges(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetEdges: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("expected no edges after cascade delete, got %d", len(edges))
	}
}

func TestConnectNodesIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, NewNode{NodeType: TypeConcept, Title: "A"})
	b := mustCreate(t, s, NewNode{NodeType: TypeConcept, Title: "B"})

	for i := 0; i < 2; i++ {
		if err := s.ConnectNodes(ctx, a.ID, b.ID, "related"); err != nil {
			t.Fatalf("ConnectNodes #%d: %v", i+1, err)
		}
	}

	edges, err := s.GetEdges(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetEdges: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("expected exactly one edge, got %d", len(edges))
	}
}

func TestListNodesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, NewNode{NodeType: TypeSource, Title: "s1"})
	mustCreate(t, s, NewNode{NodeType: TypeSource, Title: "s2"})
	mustCreate(t, s, NewNode{NodeType: TypeProject, Title: "p"})

	sources, err := s.ListNodes(ctx, TypeSource)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(sources) != 2 {
		t.Errorf("sources = %d, want 2", len(sources))
	}

	all, err := s.ListNodes(ctx, "")
	if err != nil {
		t.Fatalf("ListNodes all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all nodes = %d, want 3", len(all))
	}
}

func TestContentBodyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node := mustCreate(t, s, NewNode{NodeType: TypeSource, Title: "t"})

	// The insert trigger creates an empty body row.
	body, ok, err := s.ContentBody(ctx, node.ID)
	if err != nil {
		t.Fatalf("ContentBody: %v", err)
	}
	if !ok || body != "" {
		t.Errorf("fresh node body = %q ok=%v, want empty/true", body, ok)
	}

	if err := s.SetContentBody(ctx, node.ID, "some indexed text"); err != nil {
		t.Fatalf("SetContentBody: %v", err)
	}
	body, ok, err = s.ContentBody(ctx, node.ID)
	if err != nil || !ok {
		t.Fatalf("ContentBody after set: %v ok=%v", err, ok)
	}
	if body != "some indexed text" {
		t.Errorf("body = %q", body)
	}
}

func TestInsertEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	node := mustCreate(t, s, NewNode{NodeType: TypeChunk, Title: "c"})

	if err := s.InsertEmbedding(ctx, node.ID, testVec(0.5)); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}

	has, err := s.HasEmbedding(ctx, node.ID)
	if err != nil {
		t.Fatalf("HasEmbedding: %v", err)
	}
	if !has {
		t.Error("expected embedding to exist")
	}

	if err := s.InsertEmbedding(ctx, node.ID, []float32{1, 2}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestGetGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, NewNode{NodeType: TypeConcept, Title: "A"})
	b := mustCreate(t, s, NewNode{NodeType: TypeConcept, Title: "B"})
	if err := s.ConnectNodes(ctx, a.ID, b.ID, "related"); err != nil {
		t.Fatalf("ConnectNodes: %v", err)
	}

	g, err := s.GetGraph(ctx)
	if err != nil {
		t.Fatalf("GetGraph: %v", err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("graph = %d nodes / %d edges, want 2/1", len(g.Nodes), len(g.Edges))
	}
}
