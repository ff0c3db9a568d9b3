// Package scraper fetches web pages (with a headless-browser fallback
// for JS-rendered sites) and extracts clean readable text from them.
package scraper

// RawPage is the raw HTTP response for a single URL fetch.
type RawPage struct {
	URL        string
	HTML       string
	StatusCode int
}

// CleanPage is the readable content extracted from a RawPage.
type CleanPage struct {
	URL   string
	Title string
	Text  string
	Links []string
}
