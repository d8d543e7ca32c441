package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sa-tail/pkg/forum"
)

// consoleSink renders each newly surfaced post to the terminal.
type consoleSink struct {
	out io.Writer
}

func (s *consoleSink) Emit(thread forum.Thread, post forum.Post) error {
	var b strings.Builder
	b.WriteString("----------\n")
	b.WriteString(" /\\_/\\\n")
	b.WriteString("( o.o )\n")
	b.WriteString(" > ^ <\n\n")
	fmt.Fprintf(&b, "thread: %s\n", thread.Title)
	fmt.Fprintf(&b, "author: %s\n", post.AuthorUsername)
	fmt.Fprintf(&b, "time: %s\n", post.PostDate)
	b.WriteString("----------\n")
	b.WriteString(bodyText(post.Body))
	b.WriteString("\n")

	_, err := io.WriteString(s.out, b.String())
	return err
}

// bodyText flattens a post's HTML body into plain text. The markup is
// preserved upstream; flattening is purely a display choice of this sink.
func bodyText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	return strings.TrimSpace(doc.Text())
}
