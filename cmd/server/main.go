// Command server exposes the research engine over HTTP.
//
// The store needs SQLite's FTS5 module, which mattn/go-sqlite3 only
// compiles in under a build tag:
//
//	CGO_ENABLED=1 go build -tags sqlite_fts5 ./cmd/server
//
// Tests need the same tag:
//
//	CGO_ENABLED=1 go test -tags sqlite_fts5 ./...
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/research-bot/research"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// .env is optional; environment variables win either way.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg := research.ConfigFromEnv()

	apiKey := os.Getenv("RESEARCH_API_KEY")
	corsOrigins := os.Getenv("RESEARCH_CORS_ORIGINS")

	engine, err := research.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /projects", h.handleCreateProject)
	mux.HandleFunc("GET /projects", h.handleListProjects)
	mux.HandleFunc("GET /projects/{id}/summary", h.handleProjectSummary)
	mux.HandleFunc("GET /projects/{id}/export", h.handleProjectExport)
	mux.HandleFunc("POST /projects/{id}/link", h.handleLinkToProject)
	mux.HandleFunc("GET /projects/{id}/conversations", h.handleListConversations)

	mux.HandleFunc("POST /ingest/url", h.handleIngestURL)
	mux.HandleFunc("POST /ingest/file", h.handleIngestFile)

	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /recall", h.handleRecall)
	mux.HandleFunc("POST /chat", h.handleChat)
	mux.HandleFunc("POST /research", h.handleResearch)

	mux.HandleFunc("POST /conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}", h.handleGetConversation)
	mux.HandleFunc("DELETE /conversations/{id}", h.handleDeleteConversation)

	mux.HandleFunc("GET /nodes/{id}", h.handleGetNode)
	mux.HandleFunc("DELETE /nodes/{id}", h.handleDeleteNode)
	mux.HandleFunc("GET /graph", h.handleGraph)

	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (chat, research runs)
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
