package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIsSPA(t *testing.T) {
	longText := strings.Repeat("real readable content here. ", 200)

	tests := []struct {
		name string
		html string
		want bool
	}{
		{
			name: "react root div",
			html: `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`,
			want: true,
		},
		{
			name: "next.js marker",
			html: `<html><body><script>window.__NEXT_DATA__ = {}</script></body></html>`,
			want: true,
		},
		{
			name: "angular marker",
			html: `<html><body ng-version="15.0.1"><app-root></app-root></body></html>`,
			want: true,
		},
		{
			name: "react hydration marker",
			html: `<html><body><div data-reactroot=""></div></body></html>`,
			want: true,
		},
		{
			name: "low text ratio on large page",
			html: "<html><head><script>" + strings.Repeat("var x = 1;", 500) + "</script></head><body><p>hi</p></body></html>",
			want: true,
		},
		{
			name: "normal article",
			html: "<html><body><article><p>" + longText + "</p></article></body></html>",
			want: false,
		},
		{
			name: "small static page",
			html: `<html><body><p>tiny</p></body></html>`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSPA(tt.html); got != tt.want {
				t.Errorf("isSPA = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchStaticPage(t *testing.T) {
	body := "<html><body><article><p>" + strings.Repeat("static words here. ", 150) + "</p></article></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "ReSearch-Bot") {
			t.Errorf("user agent = %q", ua)
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	raw, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if raw.HTML != body {
		t.Error("fetched HTML differs from served body")
	}
	if raw.StatusCode != http.StatusOK {
		t.Errorf("status = %d", raw.StatusCode)
	}
}

func TestFetchNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Error("expected error on 404")
	}
}

func TestFetchSPATriggersRender(t *testing.T) {
	spaBody := `<html><body><div id="root"></div></body></html>`
	rendered := "<html><body><main><p>hydrated content</p></main></body></html>"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, spaBody)
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	var renderedURL string
	f.render = func(ctx context.Context, url string, timeout time.Duration) (string, error) {
		renderedURL = url
		return rendered, nil
	}

	raw, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if renderedURL != srv.URL {
		t.Errorf("render called with %q, want %q", renderedURL, srv.URL)
	}
	if raw.HTML != rendered {
		t.Error("expected rendered HTML to replace static body")
	}
}

func TestFetchRenderFailureKeepsStaticHTML(t *testing.T) {
	spaBody := `<html><body><div id="app"></div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, spaBody)
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	f.render = func(ctx context.Context, url string, timeout time.Duration) (string, error) {
		return "", fmt.Errorf("no browser installed")
	}

	raw, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if raw.HTML != spaBody {
		t.Error("render failure should fall back to the static HTML")
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>destination</p></body></html>")
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	f := NewFetcher(5 * time.Second)
	raw, err := f.Fetch(context.Background(), redirecting.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(raw.HTML, "destination") {
		t.Error("redirect was not followed")
	}
}
