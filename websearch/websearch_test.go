package websearch

import (
	"context"
	"testing"
)

type stubProvider struct {
	name   string
	urls   []string
	called bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(ctx context.Context, query string, maxResults int) []string {
	s.called = true
	return s.urls
}

func TestNormaliseQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "solid state batteries", want: "solid state batteries"},
		{name: "surrounding quotes", input: `"solid state batteries"`, want: "solid state batteries"},
		{name: "quotes with padding", input: `  "topic"  `, want: "topic"},
		{name: "inner quotes kept", input: `say "hello" twice`, want: `say "hello" twice`},
		{name: "lone quote pair", input: `""`, want: `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normaliseQuery(tt.input); got != tt.want {
				t.Errorf("normaliseQuery(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// First provider empty, second answers, third never consulted.
func TestChainFallThrough(t *testing.T) {
	p1 := &stubProvider{name: "p1"}
	p2 := &stubProvider{name: "p2", urls: []string{"u1", "u2"}}
	p3 := &stubProvider{name: "p3", urls: []string{"u3"}}

	chain := NewChain(p1, p2, p3)
	got := chain.Search(context.Background(), "q", 5)

	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("chain result = %v, want [u1 u2]", got)
	}
	if !p1.called || !p2.called {
		t.Error("expected p1 and p2 to be consulted")
	}
	if p3.called {
		t.Error("p3 must not be invoked after p2 answered")
	}
}

func TestChainAllEmpty(t *testing.T) {
	chain := NewChain(&stubProvider{name: "a"}, &stubProvider{name: "b"})
	if got := chain.Search(context.Background(), "q", 5); got != nil {
		t.Errorf("expected nil from an all-empty chain, got %v", got)
	}
}

func TestBraveSkippedWithoutKey(t *testing.T) {
	p := NewBrave("", 0)
	if got := p.Search(context.Background(), "anything", 5); got != nil {
		t.Errorf("keyless Brave must return nil, got %v", got)
	}
}
