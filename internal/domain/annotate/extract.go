package annotate

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/okian/credscore/internal/domain/model"
)

const maxHandleLen = 15

var (
	mentionPattern = regexp.MustCompile(`@(\w+)`)
	addressPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
)

// profileHosts are the hosts whose single-segment paths are profiles.
var profileHosts = map[string]bool{
	"twitter.com":        true,
	"www.twitter.com":    true,
	"mobile.twitter.com": true,
	"x.com":              true,
	"www.x.com":          true,
}

// reservedPaths are site sections that look like profile paths.
var reservedPaths = map[string]bool{
	"home":          true,
	"explore":       true,
	"search":        true,
	"i":             true,
	"settings":      true,
	"notifications": true,
	"messages":      true,
	"compose":       true,
	"hashtag":       true,
	"intent":        true,
}

// Extract parses an HTML document and returns the subjects it mentions, in
// document order and without duplicates.
func Extract(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseDocument, err)
	}

	c := newCollector()
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "a":
				c.add(profileFromHref(attr(n, "href")))
			}
		case html.TextNode:
			c.scanText(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			traverse(child)
		}
	}
	traverse(doc)
	return c.subjects, nil
}

// ExtractText returns the subjects mentioned in plain text.
func ExtractText(text string) []string {
	c := newCollector()
	c.scanText(text)
	return c.subjects
}

type collector struct {
	seen     map[string]bool
	subjects []string
}

func newCollector() *collector {
	return &collector{seen: make(map[string]bool)}
}

func (c *collector) add(raw string) {
	subject, ok := model.NormalizeSubject(raw)
	if !ok || c.seen[subject] {
		return
	}
	c.seen[subject] = true
	c.subjects = append(c.subjects, subject)
}

// scanText collects @mentions and addresses in the order they appear.
func (c *collector) scanText(text string) {
	type hit struct {
		at      int
		subject string
	}
	var hits []hit

	for _, m := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		start, nameStart, nameEnd := m[0], m[2], m[3]
		if start > 0 && isMentionBoundary(text[start-1]) {
			continue // part of an email address or "@@"
		}
		if nameEnd-nameStart > maxHandleLen {
			continue
		}
		hits = append(hits, hit{at: start, subject: text[nameStart:nameEnd]})
	}
	for _, m := range addressPattern.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{at: m[0], subject: text[m[0]:m[1]]})
	}

	slices.SortStableFunc(hits, func(a, b hit) int { return a.at - b.at })
	for _, h := range hits {
		c.add(h.subject)
	}
}

func isMentionBoundary(b byte) bool {
	return b == '@' || b == '_' ||
		(b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// profileFromHref returns the handle an anchor links to, or "".
func profileFromHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Host != "" && !profileHosts[strings.ToLower(u.Host)] {
		return ""
	}
	if u.Host == "" && (u.Scheme != "" || !strings.HasPrefix(u.Path, "/")) {
		return ""
	}

	name := strings.Trim(u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return ""
	}
	if reservedPaths[strings.ToLower(name)] || !model.IsHandle(name) {
		return ""
	}
	return name
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
