package acquire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Harvester extracts document links from a rendered document page.
type Harvester struct {
	Rules HarvestRules
}

// NewHarvester creates a harvester for the given rules.
func NewHarvester(rules HarvestRules) *Harvester {
	return &Harvester{Rules: rules}
}

// ExtractLinks returns absolute document URLs from html in discovery order:
// links to a document host first, then links ending in a document
// extension. Each URL appears once.
func (h *Harvester) ExtractLinks(html string, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	}

	for _, host := range h.Rules.Hosts {
		if host == "" {
			continue
		}
		doc.Find(fmt.Sprintf("a[href*=%q]", host)).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			add(resolveLink(base, href))
		})
	}

	if len(h.Rules.Extensions) > 0 {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			// Compare without the fragment so "x.pdf#page=2" still counts.
			if u := resolveLink(base, href); hasExtension(u, h.Rules.Extensions) {
				add(u)
			}
		})
	}

	return links, nil
}

// Script returns JavaScript that collects every resolved anchor href on the
// page containing one of the path patterns. Anchors built by page scripts
// after load are only visible this way.
func (h *Harvester) Script() string {
	patterns, _ := json.Marshal(h.Rules.PathPatterns)
	return fmt.Sprintf(`(() => {
	const patterns = %s;
	return Array.from(document.querySelectorAll('a[href]'))
		.map(a => a.href)
		.filter(h => h && patterns.some(p => h.includes(p) || h.toLowerCase().endsWith(p.toLowerCase())));
})()`, patterns)
}

// Merge appends extra URLs to links, resolving them against baseURL and
// dropping duplicates.
func Merge(links []string, extra []string, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		base = &url.URL{}
	}
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		seen[l] = true
	}
	for _, e := range extra {
		if u := resolveLink(base, e); u != "" && !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	}
	return links
}

// resolveLink makes href absolute against base and strips its fragment.
// Fragment-only and javascript: links resolve to "".
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}

	linkURL, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !linkURL.IsAbs() {
		linkURL = base.ResolveReference(linkURL)
	}
	linkURL.Fragment = ""
	return linkURL.String()
}

func hasExtension(href string, exts []string) bool {
	lower := strings.ToLower(href)
	for _, e := range exts {
		if e != "" && strings.HasSuffix(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// documentName is the file name a harvested URL is logged under.
func documentName(rawURL string, i int) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	return fmt.Sprintf("document_%d.pdf", i)
}
