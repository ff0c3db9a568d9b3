package store

import (
	"context"
	"fmt"
	"time"
)

// A Chat node holds its transcript as a JSON array in
// metadata["messages"]; a CONVERSATION_IN edge binds it to its project.
//
// Message shape: {"role": "user"|"assistant", "content": "...", "ts": 1700000000}

// ChatMessage is one turn of a conversation transcript.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// CreateConversation creates a Chat node and links it to projectID.
func (s *Store) CreateConversation(ctx context.Context, projectID, title string) (*Node, error) {
	if title == "" {
		title = "New conversation"
	}
	node, err := s.CreateNode(ctx, NewNode{
		Title:    title,
		NodeType: TypeChat,
		Metadata: map[string]any{"messages": []any{}},
	})
	if err != nil {
		return nil, err
	}
	// Edge: Chat -> Project
	if err := s.ConnectNodes(ctx, node.ID, projectID, RelConversationIn); err != nil {
		return nil, err
	}
	return node, nil
}

// GetConversation fetches a Chat node by id. Returns nil when the node
// is missing or is not a Chat node.
func (s *Store) GetConversation(ctx context.Context, convID string) (*Node, error) {
	node, err := s.GetNode(ctx, convID)
	if err != nil {
		return nil, err
	}
	if node == nil || node.NodeType != TypeChat {
		return nil, nil
	}
	return node, nil
}

// ListConversations returns all Chat nodes linked to projectID via
// CONVERSATION_IN, most recently active first.
func (s *Store) ListConversations(ctx context.Context, projectID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.node_type, n.title, n.content_path, n.metadata, n.created_at, n.updated_at
		FROM nodes n
		JOIN edges e ON e.source_id = n.id
		WHERE n.node_type = ?
		  AND e.relation_type = ?
		  AND e.target_id = ?
		ORDER BY n.updated_at DESC
	`, TypeChat, RelConversationIn, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// AppendMessages merges messages into metadata["messages"] and
// refreshes updated_at.
func (s *Store) AppendMessages(ctx context.Context, convID string, messages []ChatMessage) (*Node, error) {
	node, err := s.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("%w: chat %s", ErrNodeNotFound, convID)
	}

	existing, _ := node.Metadata["messages"].([]any)
	for _, m := range messages {
		if m.TS == 0 {
			m.TS = time.Now().Unix()
		}
		existing = append(existing, map[string]any{
			"role":    m.Role,
			"content": m.Content,
			"ts":      m.TS,
		})
	}
	node.Metadata["messages"] = existing

	return s.UpdateNode(ctx, convID, map[string]any{"metadata": node.Metadata})
}

// Messages decodes the transcript stored on a Chat node.
func (n *Node) Messages() []ChatMessage {
	raw, _ := n.Metadata["messages"].([]any)
	out := make([]ChatMessage, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		msg := ChatMessage{}
		msg.Role, _ = m["role"].(string)
		msg.Content, _ = m["content"].(string)
		if ts, ok := m["ts"].(float64); ok {
			msg.TS = int64(ts)
		}
		out = append(out, msg)
	}
	return out
}

// DeleteConversation deletes a Chat node (edges cascade). No-op on
// unknown ids.
func (s *Store) DeleteConversation(ctx context.Context, convID string) error {
	return s.DeleteNode(ctx, convID)
}
