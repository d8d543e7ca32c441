// Package scrape recovers structured data from the forum's server-rendered
// HTML: the bookmarked-threads listing, thread pages, and the reply form.
//
// The extractors assume one fixed site structure and fail loudly when it
// changes: any required field missing from a row aborts the whole page
// with an error carrying the offending markup, so stale assumptions never
// silently drop content.
package scrape

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ThreadParseError reports a bookmarked-threads row that did not match the
// expected structure. Fragment holds the row's inner markup.
type ThreadParseError struct {
	Fragment string
}

func (e *ThreadParseError) Error() string {
	return "unable to parse thread: " + e.Fragment
}

// PostParseError reports a post container that did not match the expected
// structure. Fragment holds the container's inner markup.
type PostParseError struct {
	Fragment string
}

func (e *PostParseError) Error() string {
	return "unable to parse post: " + e.Fragment
}

// ReplyParseError reports a reply-compose page missing an expected token.
type ReplyParseError struct {
	Field string
}

func (e *ReplyParseError) Error() string {
	return "unable to parse reply form: missing " + e.Field
}

// requireText resolves a structural path to the trimmed text of its first
// match.
func requireText(scope *goquery.Selection, selector string) (string, bool) {
	found := scope.Find(selector).First()
	if found.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(found.Text()), true
}

// requireInt resolves a structural path to an integer field.
func requireInt(scope *goquery.Selection, selector string) (int64, bool) {
	text, ok := requireText(scope, selector)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// optionalInt is requireInt for a field that may legitimately be absent,
// in which case it yields zero. A present but non-numeric value still
// fails.
func optionalInt(scope *goquery.Selection, selector string) (int64, bool) {
	found := scope.Find(selector).First()
	if found.Length() == 0 {
		return 0, true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(found.Text()), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// strippedID extracts an id attribute and strips a literal prefix.
func strippedID(scope *goquery.Selection, prefix string) (string, bool) {
	id, ok := scope.Attr("id")
	if !ok || !strings.HasPrefix(id, prefix) {
		return "", false
	}
	return id[len(prefix):], true
}

// firstText returns the first text node beneath the selection's first
// match, skipping nested element structure around it.
func firstText(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	var out string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.TextNode {
			out = n.Data
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(sel.Nodes[0]) {
		return "", false
	}
	return out, true
}

// lastText returns the last text node beneath the selection's first match.
func lastText(sel *goquery.Selection) (string, bool) {
	if sel.Length() == 0 {
		return "", false
	}
	var out string
	found := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			out = n.Data
			found = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel.Nodes[0])
	return out, found
}

// fragment renders a selection's inner markup for error payloads.
func fragment(sel *goquery.Selection) string {
	markup, err := sel.Html()
	if err != nil {
		return ""
	}
	return markup
}
