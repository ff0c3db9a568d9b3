package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Extract turns a fetched page into clean readable text. Readability
// extraction is tried first; when it fails or yields nothing, a
// structural walk over main/article/body is used instead.
func Extract(raw *RawPage) (*CleanPage, error) {
	if raw == nil || strings.TrimSpace(raw.HTML) == "" {
		return nil, fmt.Errorf("extracting %s: empty page", pageURL(raw))
	}

	page := &CleanPage{URL: raw.URL}

	base, _ := url.Parse(raw.URL)

	article, err := readability.FromReader(strings.NewReader(raw.HTML), base)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		page.Title = strings.TrimSpace(article.Title)
		page.Text = normaliseWhitespace(article.TextContent)
	} else {
		text, err := structuralText(raw.HTML)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", raw.URL, err)
		}
		page.Text = text
	}

	if page.Title == "" {
		if m := titleRe.FindStringSubmatch(raw.HTML); m != nil {
			page.Title = strings.TrimSpace(html.UnescapeString(m[1]))
		}
	}
	if page.Title == "" {
		page.Title = raw.URL
	}

	if strings.TrimSpace(page.Text) == "" {
		return nil, fmt.Errorf("extracting %s: no readable text", raw.URL)
	}

	page.Links = extractLinks(raw.HTML, base)
	return page, nil
}

func pageURL(raw *RawPage) string {
	if raw == nil {
		return "<nil>"
	}
	return raw.URL
}

// structuralText walks the DOM and returns the visible text of the most
// content-bearing region, preferring <main>, then <article>, then
// <body>. Script, style and chrome elements are skipped.
func structuralText(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	for _, tag := range []string{"main", "article", "body"} {
		if n := findElement(doc, tag); n != nil {
			text := normaliseWhitespace(collectText(n))
			if text != "" {
				return text, nil
			}
		}
	}
	return normaliseWhitespace(collectText(doc)), nil
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"footer":   true,
	"header":   true,
	"aside":    true,
	"noscript": true,
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		// Block boundaries become paragraph breaks.
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "section", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr":
				b.WriteString("\n\n")
			}
		}
	}
	walk(n)
	return b.String()
}

// extractLinks returns absolute, deduplicated hrefs found in the page.
// Fragment-only and javascript: links are dropped.
func extractLinks(rawHTML string, base *url.URL) []string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
					break
				}
				u, err := url.Parse(href)
				if err != nil {
					break
				}
				if base != nil {
					u = base.ResolveReference(u)
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					break
				}
				u.Fragment = ""
				abs := u.String()
				if !seen[abs] {
					seen[abs] = true
					links = append(links, abs)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

var (
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
)

func normaliseWhitespace(text string) string {
	text = spaceRunRe.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
