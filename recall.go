package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/research-bot/research/llm"
	"github.com/research-bot/research/store"
)

const recallTopK = 5

// maxHistoryTurns caps how many prior exchanges are replayed into the
// model so long conversations do not overflow the context window.
const maxHistoryTurns = 10

// Citation identifies a retrieved node backing an answer.
type Citation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ChatEvent is one frame of a streaming chat turn. Exactly one of the
// payload fields is meaningful per event type: Text for "token",
// Citations for "citation", Detail for "error".
type ChatEvent struct {
	Event     string     `json:"event"` // token, citation, done, error
	Text      string     `json:"text,omitempty"`
	Citations []Citation `json:"nodes,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// Recall answers a question from the knowledge base, optionally scoped
// to a project, and returns the answer text with a trailing Sources
// section.
func (e *Engine) Recall(ctx context.Context, question, projectID string) (string, error) {
	nodes, err := e.retrieve(ctx, question, projectID)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "No relevant sources found in the knowledge base.", nil
	}

	var contextParts, sources []string
	for i, n := range nodes {
		contextParts = append(contextParts, fmt.Sprintf("[%d] %s", i+1, nodeDisplayText(n)))
		sources = append(sources, fmt.Sprintf("[%d] %s", i+1, n.Title))
	}

	prompt := "You are a research assistant. Answer the question below using ONLY the " +
		"provided sources. Cite sources by their number (e.g. [1], [2]). " +
		"If the sources do not contain enough information to answer, say so.\n\n" +
		"Sources:\n" + strings.Join(contextParts, "\n\n") + "\n\n" +
		"Question: " + question + "\n\n" +
		"Answer:"

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}

	return strings.TrimSpace(resp.Content) + "\n\nSources:\n" + strings.Join(sources, "\n"), nil
}

// ChatStream runs one citation-aware chat turn. It retrieves relevant
// chunks, streams model tokens as "token" events, emits a single
// "citation" event after the last token when sources were found, and
// closes the channel after a final "done" (or "error") event.
func (e *Engine) ChatStream(ctx context.Context, question string, history []store.ChatMessage, projectID string) (<-chan ChatEvent, error) {
	nodes, err := e.retrieve(ctx, question, projectID)
	if err != nil {
		return nil, err
	}

	var contextParts []string
	var citations []Citation
	for i, n := range nodes {
		contextParts = append(contextParts, fmt.Sprintf("[%d] %s", i+1, nodeDisplayText(n)))
		url, _ := n.Metadata["url"].(string)
		citations = append(citations, Citation{ID: n.ID, Title: n.Title, URL: url})
	}

	var system string
	if len(contextParts) > 0 {
		system = "You are a research assistant. Answer the user's question using " +
			"ONLY the provided sources. Cite sources by their number " +
			"(e.g. [1], [2]). If the sources do not contain enough " +
			"information to answer, say so.\n\n" +
			"Sources:\n" + strings.Join(contextParts, "\n\n")
	} else {
		system = "You are a research assistant. " +
			"No relevant sources were found in the knowledge base for this " +
			"question. Politely let the user know and offer general guidance " +
			"if possible."
	}

	messages := []llm.Message{{Role: "system", Content: system}}
	if len(history) > maxHistoryTurns*2 {
		history = history[len(history)-maxHistoryTurns*2:]
	}
	for _, turn := range history {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})

	deltas, err := e.chat.ChatStream(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMRequestFailed, err)
	}

	out := make(chan ChatEvent)
	go func() {
		defer close(out)
		for delta := range deltas {
			if delta.Err != nil {
				select {
				case out <- ChatEvent{Event: "error", Detail: delta.Err.Error()}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- ChatEvent{Event: "token", Text: delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if len(citations) > 0 {
			select {
			case out <- ChatEvent{Event: "citation", Citations: citations}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- ChatEvent{Event: "done"}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// retrieve resolves the project scope (chat depth), embeds the
// question, and runs hybrid search. A project with an empty scope
// yields no results rather than leaking the whole store.
func (e *Engine) retrieve(ctx context.Context, question, projectID string) ([]store.Node, error) {
	scope, err := e.projectScope(ctx, projectID, store.ScopeDepthChat)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedQuery(ctx, question)
	if err != nil {
		return e.store.FTSSearch(ctx, question, recallTopK, scope)
	}
	return e.store.HybridSearch(ctx, question, vec, recallTopK, scope)
}

// nodeDisplayText prefers chunk text over the node title.
func nodeDisplayText(n store.Node) string {
	if text, ok := n.Metadata["text"].(string); ok && text != "" {
		return text
	}
	return n.Title
}
