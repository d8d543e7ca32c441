package scrape

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sa-tail/pkg/forum"
)

// Posts parses one page of a thread into posts, in document order. The
// data-idx attribute becomes Post.Index, the tailer's deduplication key,
// so a post missing it aborts the whole page with a PostParseError rather
// than being skipped.
func Posts(page []byte) ([]forum.Post, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse thread html: %w", err)
	}

	var posts []forum.Post
	var postErr error
	doc.Find("table.post").EachWithBreak(func(_ int, container *goquery.Selection) bool {
		post, err := postContainer(container)
		if err != nil {
			postErr = err
			return false
		}
		posts = append(posts, post)
		return true
	})
	if postErr != nil {
		return nil, postErr
	}

	return posts, nil
}

func postContainer(container *goquery.Selection) (forum.Post, error) {
	// Direct children only: post bodies nest quoted tables whose rows
	// must not be mistaken for the container's own.
	rows := container.ChildrenFiltered("tbody").ChildrenFiltered("tr")
	if rows.Length() < 2 {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}
	authorAndBody := rows.Eq(0)
	dateAndLinks := rows.Eq(1)

	id, ok := strippedID(container, "post")
	if !ok {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}

	idx, ok := container.Attr("data-idx")
	if !ok {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}
	index, err := strconv.ParseInt(idx, 10, 64)
	if err != nil {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}

	// The username is the dt's leading text node; titles and badges
	// follow it as nested elements.
	author, ok := firstText(authorAndBody.Find("dl.userinfo > dt"))
	if !ok {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}

	registered, ok := requireText(authorAndBody, "dl.userinfo > dd.registered")
	if !ok {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}

	// The post date is the last text node of its cell, after the
	// permalink anchors.
	postDate, ok := lastText(dateAndLinks.Find("tr > td.postdate"))
	if !ok {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}

	body := authorAndBody.Find("td.postbody").First()
	if body.Length() == 0 {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}
	bodyHTML, err := body.Html()
	if err != nil {
		return forum.Post{}, &PostParseError{Fragment: fragment(container)}
	}

	return forum.Post{
		ID:                     id,
		Index:                  index,
		AuthorUsername:         author,
		AuthorRegistrationDate: registered,
		PostDate:               strings.TrimSpace(postDate),
		Body:                   bodyHTML,
	}, nil
}
