package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const userAgent = "Mozilla/5.0 (compatible; ReSearch-Bot/1.0; +https://github.com/research-bot)"

// SPA fingerprints: framework mount points and markers that indicate a
// page whose content only exists after JavaScript runs.
var spaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<div[^>]+id=["'](?:root|app)["']`),
	regexp.MustCompile(`(?i)window\.__NEXT_DATA__`),
	regexp.MustCompile(`(?i)ng-version=`),
	regexp.MustCompile(`(?i)data-reactroot`),
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
)

// Fetcher retrieves pages over HTTP, re-fetching through a headless
// browser when a SPA fingerprint is detected.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration

	// render produces fully-rendered HTML for a URL. Overridable so
	// tests don't need a browser installed.
	render func(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// NewFetcher returns a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			// Redirects are followed by default; cap them.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		timeout: timeout,
		render:  renderWithBrowser,
	}
}

// Fetch retrieves url and returns the page HTML. Non-2xx responses are
// an error. When the body looks like a JavaScript SPA, the page is
// re-fetched through a headless browser that waits for network idle.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*RawPage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	raw := &RawPage{URL: url, HTML: string(body), StatusCode: resp.StatusCode}

	if isSPA(raw.HTML) {
		slog.Debug("scraper: SPA fingerprint detected, rendering with browser", "url", url)
		html, err := f.render(ctx, url, f.timeout)
		if err != nil {
			// Keep the static HTML; extraction may still find something.
			slog.Warn("scraper: browser render failed, using static HTML", "url", url, "error", err)
			return raw, nil
		}
		raw.HTML = html
	}

	return raw, nil
}

// isSPA reports whether html looks like a JavaScript SPA that needs
// rendering: a known framework marker, or an unusually low visible-text
// ratio on a non-trivial page.
func isSPA(html string) bool {
	for _, p := range spaPatterns {
		if p.MatchString(html) {
			return true
		}
	}
	// Strip script/style blocks first so their source does not count as
	// visible text, then strip remaining tags.
	noScripts := scriptStyleRe.ReplaceAllString(html, "")
	visible := strings.TrimSpace(tagRe.ReplaceAllString(noScripts, ""))
	return len(html) > 2000 && len(visible) < 200
}

// renderWithBrowser loads url in headless Chromium and returns the DOM
// HTML after the network goes idle.
func renderWithBrowser(ctx context.Context, url string, timeout time.Duration) (string, error) {
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return "", fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connecting to browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("opening page: %w", err)
	}
	page = page.Timeout(timeout)

	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigating to %s: %w", url, err)
	}
	wait()

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("reading rendered HTML: %w", err)
	}
	return html, nil
}
