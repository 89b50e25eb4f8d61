// Package extractor derives structured facts from raw HTML. It is pure
// and stateless: no I/O, no hidden state, and malformed input degrades to
// partial results instead of failing.
package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pagelens/webinsight/internal/crawler"
)

// Extractor parses HTML documents into crawler.PageFacts.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract analyzes rawHTML against baseURL and returns the page facts.
// It never fails: fatal parse problems are reported through ParseNotes on
// an otherwise empty-but-valid result.
func (e *Extractor) Extract(rawHTML, baseURL string) *crawler.PageFacts {
	facts := &crawler.PageFacts{
		HeadingCounts: zeroHeadingCounts(),
		Links:         make([]crawler.Link, 0),
		ParseNotes:    make([]string, 0),
	}

	facts.HTMLVersion = detectHTMLVersion(rawHTML)

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		facts.ParseNotes = append(facts.ParseNotes,
			fmt.Sprintf("invalid base url %q, link discovery skipped", baseURL))
		base = nil
	}

	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		facts.ParseNotes = append(facts.ParseNotes, fmt.Sprintf("parse html: %v", err))
		return facts
	}

	w := &walker{base: base, facts: facts}
	w.visit(root)
	return facts
}

func zeroHeadingCounts() map[string]int {
	return map[string]int{
		"h1": 0, "h2": 0, "h3": 0, "h4": 0, "h5": 0, "h6": 0,
	}
}

// walker accumulates facts over a single depth-first pass. Text capture for
// the title and the current anchor happens in place, so every node is
// visited exactly once.
type walker struct {
	base  *url.URL
	facts *crawler.PageFacts

	titleSeen bool
	titleBuf  *strings.Builder
	formDepth int
	anchorRef *url.URL
	anchorBuf *strings.Builder
}

func (w *walker) visit(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if w.titleBuf != nil {
			w.titleBuf.WriteString(n.Data)
		}
		if w.anchorBuf != nil {
			w.anchorBuf.WriteString(n.Data)
		}
	case html.ElementNode:
		w.enterElement(n)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.visit(c)
	}

	if n.Type == html.ElementNode {
		w.leaveElement(n)
	}
}

func (w *walker) enterElement(n *html.Node) {
	switch n.DataAtom {
	case atom.Title:
		if !w.titleSeen {
			w.titleBuf = &strings.Builder{}
		}
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.facts.HeadingCounts[n.DataAtom.String()]++
	case atom.A:
		w.openAnchor(n)
	case atom.Form:
		w.formDepth++
	case atom.Input:
		if w.formDepth > 0 && strings.EqualFold(attrValue(n, "type"), "password") {
			w.facts.HasLoginForm = true
		}
	}
}

func (w *walker) leaveElement(n *html.Node) {
	switch n.DataAtom {
	case atom.Title:
		if w.titleBuf != nil {
			w.closeTitle()
		}
	case atom.A:
		if w.anchorRef != nil {
			w.closeAnchor()
		}
	case atom.Form:
		if w.formDepth > 0 {
			w.formDepth--
		}
	}
}

func (w *walker) closeTitle() {
	title := strings.TrimSpace(w.titleBuf.String())
	w.titleBuf = nil
	w.titleSeen = true
	if title != "" {
		w.facts.Title = &title
	}
}

// openAnchor resolves the href and starts capturing anchor text. Empty,
// fragment-only, javascript: and mailto: refs are not links.
func (w *walker) openAnchor(n *html.Node) {
	if w.base == nil {
		return
	}
	href := strings.TrimSpace(attrValue(n, "href"))
	if skipHref(href) {
		return
	}
	resolved, err := w.base.Parse(href)
	if err != nil {
		w.facts.ParseNotes = append(w.facts.ParseNotes,
			fmt.Sprintf("unresolvable href %q", href))
		return
	}
	w.anchorRef = resolved
	w.anchorBuf = &strings.Builder{}
}

func (w *walker) closeAnchor() {
	resolved := w.anchorRef
	text := collapseWhitespace(w.anchorBuf.String())
	w.anchorRef = nil
	w.anchorBuf = nil

	if text == "" {
		text = resolved.String()
	}
	w.facts.Links = append(w.facts.Links, crawler.Link{
		URL:      resolved.String(),
		Text:     text,
		Internal: strings.EqualFold(resolved.Host, w.base.Host),
	})
}

func skipHref(href string) bool {
	if href == "" || href == "#" {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:")
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// collapseWhitespace trims the string and folds runs of whitespace
// (including newlines and tabs) into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
