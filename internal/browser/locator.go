package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Strategy names how a Locator's query finds an element.
type Strategy string

const (
	LinkText        Strategy = "link_text"         // <a> whose visible text equals the query
	PartialLinkText Strategy = "partial_link_text" // <a> whose visible text contains the query
	XPath           Strategy = "xpath"
	CSS             Strategy = "css"
)

// DefaultLocatorTimeout applies when a Locator has no timeout of its own.
const DefaultLocatorTimeout = 5 * time.Second

// Locator is one element-finding strategy in an ordered fallback chain.
type Locator struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Strategy Strategy      `mapstructure:"strategy" yaml:"strategy"`
	Query    string        `mapstructure:"query" yaml:"query"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func (l Locator) String() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("%s(%s)", l.Strategy, l.Query)
}

// timeout returns the locator's own wait budget.
func (l Locator) timeout() time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return DefaultLocatorTimeout
}

// selector translates the locator into a chromedp selector and query option.
func (l Locator) selector() (string, chromedp.QueryOption, error) {
	if strings.TrimSpace(l.Query) == "" {
		return "", nil, fmt.Errorf("locator %s: empty query", l)
	}
	switch l.Strategy {
	case LinkText:
		return "//a[normalize-space(.)=" + xpathLiteral(strings.TrimSpace(l.Query)) + "]", chromedp.BySearch, nil
	case PartialLinkText:
		return "//a[contains(normalize-space(.), " + xpathLiteral(strings.TrimSpace(l.Query)) + ")]", chromedp.BySearch, nil
	case XPath:
		return l.Query, chromedp.BySearch, nil
	case CSS:
		return l.Query, chromedp.ByQuery, nil
	default:
		return "", nil, fmt.Errorf("locator %s: unknown strategy %q", l, l.Strategy)
	}
}

// xpathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a string holding both quote kinds is built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
