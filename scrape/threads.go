package scrape

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"sa-tail/pkg/forum"
)

// Threads parses one page of the bookmarked-threads listing into thread
// summaries, in document order. A row that deviates from the expected
// structure aborts the whole page with a ThreadParseError; partial results
// are never returned.
func Threads(page []byte) ([]forum.Thread, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var threads []forum.Thread
	var rowErr error
	doc.Find("tbody > tr.thread").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		thread, err := threadRow(row)
		if err != nil {
			rowErr = err
			return false
		}
		threads = append(threads, thread)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return threads, nil
}

func threadRow(row *goquery.Selection) (forum.Thread, error) {
	id, ok := strippedID(row, "thread")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	title, ok := requireText(row, "a.thread_title")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	author, ok := requireText(row, "td.author > a")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	replies, ok := requireInt(row, "td.replies > a")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	views, ok := requireInt(row, "td.views")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	lastPostDate, ok := requireText(row, "td.lastpost > div.date")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	lastPostUser, ok := requireText(row, "td.lastpost > a.author")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}
	// The unread badge disappears entirely on fully-read threads.
	unread, ok := optionalInt(row, "td.title > div.title_inner > div.lastseen > a.count > b")
	if !ok {
		return forum.Thread{}, &ThreadParseError{Fragment: fragment(row)}
	}

	return forum.Thread{
		ID:               id,
		Title:            title,
		AuthorUsername:   author,
		Replies:          replies,
		Views:            views,
		LastPostDate:     lastPostDate,
		LastPostUsername: lastPostUser,
		Unread:           unread,
	}, nil
}
