// File: internal/snapshot/snapshot.go
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/xkilldash9x/domrelay/internal/bridge"
	"golang.org/x/net/html"
)

// captureScript is evaluated in the page realm to fetch the raw document.
const captureScript = `({url: location.href, html: document.documentElement.outerHTML})`

// strippedAttrs are removed from every element; data-* attributes go too.
var strippedAttrs = map[string]bool{
	"lang":   true,
	"style":  true,
	"src":    true,
	"srcset": true,
}

var whitespace = regexp.MustCompile(`\s+`)

// Requester sends code to the page realm. *bridge.Bridge satisfies it.
type Requester interface {
	Send(ctx context.Context, code string, capture bool) (bridge.Result, error)
}

// Snapshot is a reduced view of the current page, ready for a prompt.
type Snapshot struct {
	URL            string
	HTML           string
	OriginalLength int
	Truncated      bool
}

// Capture fetches the current document through r and sanitizes it.
func Capture(ctx context.Context, r Requester, maxLen int) (Snapshot, error) {
	res, err := r.Send(ctx, captureScript, true)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: request page: %w", err)
	}
	if res.Failed() {
		return Snapshot{}, fmt.Errorf("snapshot: page reported: %s", res.Err)
	}
	var raw struct {
		URL  string `json:"url"`
		HTML string `json:"html"`
	}
	if err := res.Decode(&raw); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode page payload: %w", err)
	}
	if raw.HTML == "" {
		return Snapshot{}, errors.New("snapshot: page returned an empty document")
	}

	clean, err := Sanitize(raw.HTML)
	if err != nil {
		return Snapshot{}, err
	}
	out, truncated := Truncate(clean, maxLen)
	return Snapshot{URL: raw.URL, HTML: out, OriginalLength: len(clean), Truncated: truncated}, nil
}

// Sanitize reduces a document to its informative markup: scripts, links and
// styles are removed, meta tags other than the description are removed,
// presentational and data attributes are stripped, and whitespace runs are
// collapsed. The result is the inner markup of the html element.
func Sanitize(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("snapshot: parse html: %w", err)
	}

	doc.Find("script, link, style").Remove()
	doc.Find("meta").Not(`meta[name="description"]`).Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			n.Attr = keepAttrs(n.Attr)
		}
	})

	inner, err := doc.Find("html").First().Html()
	if err != nil {
		return "", fmt.Errorf("snapshot: render html: %w", err)
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(inner, " ")), nil
}

func keepAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strippedAttrs[key] || strings.HasPrefix(key, "data-") {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// Truncate cuts s to at most maxLen bytes without splitting a rune and
// reports whether anything was cut. A non-positive maxLen disables it.
func Truncate(s string, maxLen int) (string, bool) {
	if maxLen <= 0 || len(s) <= maxLen {
		return s, false
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
