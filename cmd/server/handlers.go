package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/research-bot/research"
	"github.com/research-bot/research/agent"
	"github.com/research-bot/research/store"
)

type handler struct {
	engine *research.Engine
}

func newHandler(e *research.Engine) *handler {
	return &handler{engine: e}
}

// POST /projects
func (h *handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	project, err := h.engine.CreateProject(r.Context(), req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating project failed")
		slog.Error("create project error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// GET /projects
func (h *handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.engine.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing projects failed")
		slog.Error("list projects error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// GET /projects/{id}/summary
func (h *handler) handleProjectSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Store().Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "project summary failed")
		slog.Error("project summary error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /projects/{id}/export
func (h *handler) handleProjectExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.engine.Store().ExportProject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "project export failed")
		slog.Error("project export error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// POST /projects/{id}/link
func (h *handler) handleLinkToProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID   string `json:"node_id"`
		Relation string `json:"relation,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}

	if err := h.engine.LinkToProject(r.Context(), r.PathValue("id"), req.NodeID, req.Relation); err != nil {
		writeError(w, http.StatusInternalServerError, "linking failed")
		slog.Error("link error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// POST /ingest/url
func (h *handler) handleIngestURL(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		URL       string `json:"url"`
		ProjectID string `json:"project_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	source, err := h.engine.IngestURL(ctx, req.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest url error", "url", req.URL, "error", err)
		return
	}

	if req.ProjectID != "" {
		if err := h.engine.LinkToProject(ctx, req.ProjectID, source.ID, ""); err != nil {
			slog.Warn("linking ingested source failed", "project_id", req.ProjectID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, source)
}

// POST /ingest/file
// Accepts a multipart upload or JSON with a local path. The file type
// is decided by extension (.pdf or .xlsx).
func (h *handler) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var path, projectID string
	var cleanup func()

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)
			tmpPath := filepath.Join(os.TempDir(), safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()

			path = tmpPath
			projectID = r.FormValue("project_id")
			cleanup = func() { os.Remove(tmpPath) }
		}
	}

	if path == "" {
		var req struct {
			Path      string `json:"path"`
			ProjectID string `json:"project_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
			return
		}

		absPath, err := filepath.Abs(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path")
			return
		}
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			writeError(w, http.StatusBadRequest, "path must be an existing file")
			return
		}
		path = absPath
		projectID = req.ProjectID
	}
	if cleanup != nil {
		defer cleanup()
	}

	var source *store.Node
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		source, err = h.engine.IngestPDF(ctx, path)
	case ".xlsx", ".xls":
		source, err = h.engine.IngestXLSX(ctx, path)
	default:
		writeError(w, http.StatusBadRequest, "unsupported file type: expected .pdf or .xlsx")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest file error", "path", path, "error", err)
		return
	}

	if projectID != "" {
		if err := h.engine.LinkToProject(ctx, projectID, source.ID, ""); err != nil {
			slog.Warn("linking ingested source failed", "project_id", projectID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, source)
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		Query     string `json:"query"`
		Mode      string `json:"mode,omitempty"` // fuzzy, semantic, hybrid
		K         int    `json:"k,omitempty"`
		ProjectID string `json:"project_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 || req.K > 100 {
		req.K = 0 // use default
	}

	mode := research.SearchMode(req.Mode)
	if mode == "" {
		mode = research.SearchHybrid
	}

	nodes, err := h.engine.Search(ctx, req.Query, mode, req.K, req.ProjectID)
	if err != nil {
		if errors.Is(err, research.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": nodes})
}

// POST /recall
func (h *handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question  string `json:"question"`
		ProjectID string `json:"project_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.engine.Recall(ctx, req.Question, req.ProjectID)
	if err != nil {
		if errors.Is(err, research.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "recall failed")
		slog.Error("recall error", "question", req.Question, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// POST /chat
// Streams one chat turn as SSE frames: token, citation, done, error.
// When conversation_id is given, history is loaded from the store and
// the exchange is appended after the stream completes.
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question       string              `json:"question"`
		ProjectID      string              `json:"project_id,omitempty"`
		ConversationID string              `json:"conversation_id,omitempty"`
		History        []store.ChatMessage `json:"history,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	history := req.History
	if req.ConversationID != "" {
		conv, err := h.engine.Conversation(r.Context(), req.ConversationID)
		if err != nil {
			if errors.Is(err, research.ErrConversationNotFound) {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "loading conversation failed")
			return
		}
		history = conv.Messages()
		if req.ProjectID == "" {
			// The conversation's project is the target of its
			// CONVERSATION_IN edge.
			edges, err := h.engine.Store().GetEdges(r.Context(), conv.ID)
			if err == nil {
				for _, e := range edges {
					if e.SourceID == conv.ID && e.RelationType == store.RelConversationIn {
						req.ProjectID = e.TargetID
						break
					}
				}
			}
		}
	}

	events, err := h.engine.ChatStream(r.Context(), req.Question, history, req.ProjectID)
	if err != nil {
		if errors.Is(err, research.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "chat failed")
		slog.Error("chat error", "error", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var answer strings.Builder
	for ev := range events {
		if ev.Event == "token" {
			answer.WriteString(ev.Text)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	if req.ConversationID != "" && answer.Len() > 0 {
		now := time.Now().Unix()
		_, err := h.engine.Store().AppendMessages(r.Context(), req.ConversationID, []store.ChatMessage{
			{Role: "user", Content: req.Question, TS: now},
			{Role: "assistant", Content: answer.String(), TS: now},
		})
		if err != nil {
			slog.Warn("appending chat turn failed", "conversation_id", req.ConversationID, "error", err)
		}
	}
}

// POST /research
// Runs the autonomous agent and streams stage progress as SSE frames,
// ending with the final state.
func (h *handler) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Goal == "" {
		writeError(w, http.StatusBadRequest, "goal is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	progress := func(stage string, state agent.State) {
		payload, err := json.Marshal(map[string]any{"event": "stage", "stage": stage, "state": state})
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	state, err := h.engine.Research(r.Context(), req.Goal, progress)
	if err != nil {
		payload, _ := json.Marshal(map[string]any{"event": "error", "detail": err.Error()})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return
	}

	payload, _ := json.Marshal(map[string]any{"event": "done", "state": state})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// POST /conversations
func (h *handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		Title     string `json:"title,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	conv, err := h.engine.Store().CreateConversation(r.Context(), req.ProjectID, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating conversation failed")
		slog.Error("create conversation error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// GET /projects/{id}/conversations
func (h *handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.engine.Store().ListConversations(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		slog.Error("list conversations error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// GET /conversations/{id}
func (h *handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.engine.Conversation(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, research.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading conversation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     conv.Messages(),
	})
}

// DELETE /conversations/{id}
func (h *handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Store().DeleteConversation(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete conversation error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /nodes/{id}
func (h *handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.engine.Store().GetNode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading node failed")
		return
	}
	if node == nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	edges, err := h.engine.Store().GetEdges(r.Context(), node.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading edges failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": node, "edges": edges})
}

// DELETE /nodes/{id}
func (h *handler) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Store().DeleteNode(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete node error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /graph
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := h.engine.Store().GetGraph(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading graph failed")
		slog.Error("graph error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
