// internal/browser/jsexec/page.go
package jsexec

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Page is the document model behind an embedded realm. It holds the current
// URL and parsed document, a table of routes used to resolve navigations, and
// a log of interactions for inspection by tests and the sandbox.
type Page struct {
	mu          sync.Mutex
	url         *url.URL
	doc         *goquery.Document
	routes      map[string]string
	clicks      []string
	navigations []string
}

// NewPage parses html as the document loaded at rawURL.
func NewPage(rawURL, html string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("jsexec: invalid page url %q: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("jsexec: parse page html: %w", err)
	}
	return &Page{url: u, doc: doc, routes: map[string]string{u.String(): html}}, nil
}

// Route registers the document served when the page navigates to rawURL.
func (p *Page) Route(rawURL, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[rawURL] = html
}

// Navigate resolves target against the current URL and loads the routed
// document, or an empty one if no route matches.
func (p *Page) Navigate(target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ref, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("jsexec: invalid navigation target %q: %w", target, err)
	}
	next := p.url.ResolveReference(ref)
	html, ok := p.routes[next.String()]
	if !ok {
		html = "<html><head></head><body></body></html>"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("jsexec: parse routed html: %w", err)
	}
	p.url = next
	p.doc = doc
	p.navigations = append(p.navigations, next.String())
	return nil
}

// URL returns the current location.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

// HTML serializes the current document.
func (p *Page) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	html, err := goquery.OuterHtml(p.doc.Selection.Find("html"))
	if err != nil {
		return ""
	}
	return html
}

// Title returns the document title.
func (p *Page) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.TrimSpace(p.doc.Find("title").First().Text())
}

// Clicks lists a short description of every clicked element, oldest first.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.clicks...)
}

// Navigations lists every URL navigated to after the initial load.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.navigations...)
}

func (p *Page) find(selector string) *goquery.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector)
}

// click records the click and follows the first link in sel, the way a
// native click on an anchor would.
func (p *Page) click(sel *goquery.Selection) error {
	var href string
	p.mu.Lock()
	sel.Each(func(_ int, s *goquery.Selection) {
		p.clicks = append(p.clicks, describe(s))
		if href != "" || goquery.NodeName(s) != "a" {
			return
		}
		if h, ok := s.Attr("href"); ok && h != "" && !strings.HasPrefix(h, "#") &&
			!strings.HasPrefix(strings.ToLower(h), "javascript:") {
			href = h
		}
	})
	p.mu.Unlock()

	if href == "" {
		return nil
	}
	return p.Navigate(href)
}

func describe(s *goquery.Selection) string {
	name := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok {
		name += "#" + id
	}
	text := strings.Join(strings.Fields(s.Text()), " ")
	if r := []rune(text); len(r) > 40 {
		text = string(r[:40])
	}
	if text == "" {
		return name
	}
	return name + " " + fmt.Sprintf("%q", text)
}
