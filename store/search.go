package store

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// rrfConst is the Reciprocal Rank Fusion constant (standard value from
// the literature).
const rrfConst = 60

// scopedOverfetch is the multiplier applied to k for scoped vector
// searches. sqlite-vec applies the scope filter after the KNN scan, so
// the pre-filter candidate set must be wider than k to still fill k
// results after filtering.
const scopedOverfetch = 4

var ftsTokenRe = regexp.MustCompile(`[A-Za-z0-9]{3,}`)

// sanitizeFTSQuery converts free-form text into a safe FTS5 match
// expression. FTS5 treats commas, apostrophes, hyphens, and colons as
// query operators, so a raw sentence raises a syntax error. Each
// alphanumeric token of length >= 3 is quoted as a phrase literal and
// the tokens are joined with implicit AND. Duplicate tokens are dropped
// case-insensitively, preserving first-seen order. When no tokens
// survive, the quoted-star sentinel is returned: FTS5 parses it as an
// empty phrase matching no rows, so token-free queries yield an empty
// result instead of a syntax error.
func sanitizeFTSQuery(text string) string {
	tokens := ftsTokenRe.FindAllString(text, -1)
	seen := make(map[string]bool, len(tokens))
	var quoted []string
	for _, t := range tokens {
		lower := strings.ToLower(t)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	if len(quoted) == 0 {
		return `"*"`
	}
	return strings.Join(quoted, " ")
}

// FTSSearch returns up to k nodes whose indexed text matches query,
// ranked by BM25 relevance. When scope is non-nil, results are
// restricted to those ids.
func (s *Store) FTSSearch(ctx context.Context, query string, k int, scope []string) ([]Node, error) {
	ftsQuery := sanitizeFTSQuery(query)

	scopeClause := ""
	args := []any{ftsQuery}
	if scope != nil {
		if len(scope) == 0 {
			return nil, nil
		}
		scopeClause = "AND n.id IN (" + placeholders(len(scope)) + ")"
		for _, id := range scope {
			args = append(args, id)
		}
	}
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.node_type, n.title, n.content_path, n.metadata, n.created_at, n.updated_at
		FROM nodes n
		JOIN nodes_fts f ON n.id = f.id
		WHERE nodes_fts MATCH ?
		`+scopeClause+`
		ORDER BY bm25(nodes_fts)
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// VectorSearch returns the k nodes nearest to embedding, distance
// ascending. When scope is non-nil, the KNN scan over-fetches and the
// scope filter is applied afterwards.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, k int, scope []string) ([]Node, error) {
	knnK := k
	scopeClause := ""
	args := []any{serializeFloat32(embedding)}
	if scope != nil {
		if len(scope) == 0 {
			return nil, nil
		}
		knnK = k * scopedOverfetch
		scopeClause = "AND n.id IN (" + placeholders(len(scope)) + ")"
	}
	args = append(args, knnK)
	for _, id := range scope {
		args = append(args, id)
	}
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.node_type, n.title, n.content_path, n.metadata, n.created_at, n.updated_at
		FROM nodes_vec v
		JOIN nodes n ON n.id = v.id
		WHERE v.embedding MATCH ?
		  AND k = ?
		`+scopeClause+`
		ORDER BY v.distance
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// HybridSearch fuses FTS and vector results with Reciprocal Rank
// Fusion: score(n) = sum over lists of 1/(rrfConst + rank). Both legs
// are queried for 2k candidates; the top k fused nodes are returned,
// score descending. Ties break on lexical rank first, then first-seen
// order.
func (s *Store) HybridSearch(ctx context.Context, query string, embedding []float32, k int, scope []string) ([]Node, error) {
	ftsResults, err := s.FTSSearch(ctx, query, k*2, scope)
	if err != nil {
		return nil, err
	}
	vecResults, err := s.VectorSearch(ctx, embedding, k*2, scope)
	if err != nil {
		return nil, err
	}

	type fusedEntry struct {
		node    Node
		score   float64
		ftsRank int // 1-based, 0 = not present
		order   int // first-seen position across both lists
	}

	fused := make(map[string]*fusedEntry)
	order := 0

	for rank, n := range ftsResults {
		entry := &fusedEntry{node: n, ftsRank: rank + 1, order: order}
		entry.score += 1.0 / float64(rrfConst+rank+1)
		fused[n.ID] = entry
		order++
	}
	for rank, n := range vecResults {
		entry, ok := fused[n.ID]
		if !ok {
			entry = &fusedEntry{node: n, order: order}
			fused[n.ID] = entry
			order++
		}
		entry.score += 1.0 / float64(rrfConst+rank+1)
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		ri, rj := entries[i].ftsRank, entries[j].ftsRank
		if ri == 0 {
			ri = int(^uint(0) >> 1)
		}
		if rj == 0 {
			rj = int(^uint(0) >> 1)
		}
		if ri != rj {
			return ri < rj
		}
		return entries[i].order < entries[j].order
	})

	if len(entries) > k {
		entries = entries[:k]
	}
	results := make([]Node, len(entries))
	for i, e := range entries {
		results[i] = e.node
	}
	return results, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
