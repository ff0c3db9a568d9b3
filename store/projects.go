package store

import (
	"context"
	"fmt"
)

// Scope depths used by the retrieval and chat paths. Both traversals
// start at the project root; chat reaches one hop further so nodes
// hanging off chunks (related concepts, citations) stay in scope.
const (
	ScopeDepthRetrieval = 2
	ScopeDepthChat      = 3
)

// CreateProject creates a new Project node.
func (s *Store) CreateProject(ctx context.Context, name string) (*Node, error) {
	return s.CreateNode(ctx, NewNode{Title: name, NodeType: TypeProject})
}

// ListProjects returns all Project nodes, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]Node, error) {
	return s.ListNodes(ctx, TypeProject)
}

// LinkToProject connects a node to a project root.
func (s *Store) LinkToProject(ctx context.Context, projectID, nodeID, relation string) error {
	if relation == "" {
		relation = RelHasSource
	}
	return s.ConnectNodes(ctx, projectID, nodeID, relation)
}

// ProjectNodes returns every node reachable from the project root along
// outgoing edges within depth hops. The traversal is a depth-bounded
// directed walk with cycle protection (recursive CTE with UNION); the
// root itself is excluded from the result.
func (s *Store) ProjectNodes(ctx context.Context, projectID string, depth int) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE reachable(id, depth) AS (
			SELECT ?, 0
			UNION
			SELECT e.target_id, r.depth + 1
			FROM edges e
			JOIN reachable r ON e.source_id = r.id
			WHERE r.depth < ?
		)
		SELECT DISTINCT n.id, n.node_type, n.title, n.content_path, n.metadata, n.created_at, n.updated_at
		FROM nodes n
		JOIN reachable r ON n.id = r.id
		WHERE n.id != ?
	`, projectID, depth, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ProjectScope resolves the set of node ids searchable under a project.
func (s *Store) ProjectScope(ctx context.Context, projectID string, depth int) ([]string, error) {
	nodes, err := s.ProjectNodes(ctx, projectID, depth)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids, nil
}

// ProjectSummary holds per-project statistics.
type ProjectSummary struct {
	TotalNodes      int            `json:"total_nodes"`
	ByType          map[string]int `json:"by_type"`
	RecentArtifacts []string       `json:"recent_artifacts"`
}

// Summary returns node counts by type and the most recent artifact
// titles for a project.
func (s *Store) Summary(ctx context.Context, projectID string) (*ProjectSummary, error) {
	nodes, err := s.ProjectNodes(ctx, projectID, ScopeDepthRetrieval)
	if err != nil {
		return nil, err
	}

	summary := &ProjectSummary{ByType: map[string]int{}}
	summary.TotalNodes = len(nodes)
	var artifacts []string
	for _, n := range nodes {
		summary.ByType[n.NodeType]++
		if n.NodeType == TypeArtifact {
			artifacts = append(artifacts, n.Title)
		}
	}
	if len(artifacts) > 5 {
		artifacts = artifacts[len(artifacts)-5:]
	}
	summary.RecentArtifacts = artifacts
	return summary, nil
}

// ProjectExport is the serialised subgraph of a project.
type ProjectExport struct {
	Project Node   `json:"project"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// ExportProject serialises the project subgraph: the root, the reachable
// content nodes, and every edge whose endpoints both lie inside the
// subgraph.
func (s *Store) ExportProject(ctx context.Context, projectID string) (*ProjectExport, error) {
	root, err := s.GetNode(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, projectID)
	}

	nodes, err := s.ProjectNodes(ctx, projectID, ScopeDepthRetrieval)
	if err != nil {
		return nil, err
	}

	inScope := map[string]bool{root.ID: true}
	for _, n := range nodes {
		inScope[n.ID] = true
	}

	seen := map[[3]string]bool{}
	var edges []Edge
	all := append([]Node{*root}, nodes...)
	for _, n := range all {
		incident, err := s.GetEdges(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range incident {
			if !inScope[e.SourceID] || !inScope[e.TargetID] {
				continue
			}
			key := [3]string{e.SourceID, e.TargetID, e.RelationType}
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, e)
		}
	}

	return &ProjectExport{Project: *root, Nodes: nodes, Edges: edges}, nil
}
