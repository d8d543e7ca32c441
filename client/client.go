// Package client composes the session transport with the HTML extractors
// to expose the forum operations: bookmarked-thread listing, post pages,
// profiles, and reply submission.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"sa-tail/pkg/forum"
	"sa-tail/scrape"
	"sa-tail/session"
)

// PageSize is the per-page row count requested from the server. It doubles
// as the pagination-termination check: a page with exactly PageSize rows
// means another page may exist. The two uses must never drift apart.
const PageSize = 40

// Client drives forum operations over an authenticated session.
type Client struct {
	session *session.Session
	logger  *slog.Logger
}

// New creates a client on top of a session.
func New(s *session.Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{session: s, logger: logger}
}

// User references a forum user for profile lookups.
type User struct {
	userID   string
	username string
}

// CurrentUser references the logged-in user.
func CurrentUser() User { return User{} }

// UserID references a user by numeric ID.
func UserID(id string) User { return User{userID: id} }

// Username references a user by name.
func Username(name string) User { return User{username: name} }

// ThreadPage selects which page of a thread to fetch.
type ThreadPage struct {
	gotoParam string
	number    int
}

var (
	// FirstPage is the first page of a thread.
	FirstPage = ThreadPage{}
	// LastPage is the last page of a thread.
	LastPage = ThreadPage{gotoParam: "lastpost"}
	// UnreadPage is the page holding the first unread post.
	UnreadPage = ThreadPage{gotoParam: "newpost"}
)

// PageNumber selects an explicit page, between 1 and the thread's maximum.
func PageNumber(n int) ThreadPage { return ThreadPage{number: n} }

// FetchBookmarkedThreads returns metadata for all bookmarked threads,
// walking listing pages until the first short page. The server reports no
// total count, so a full page is the only signal that more may follow.
func (c *Client) FetchBookmarkedThreads(ctx context.Context) ([]forum.Thread, error) {
	var all []forum.Thread
	for page := 1; ; page++ {
		body, err := c.session.Get(ctx, "/bookmarkthreads.php", url.Values{
			"action":     {"view"},
			"perpage":    {strconv.Itoa(PageSize)},
			"pagenumber": {strconv.Itoa(page)},
		})
		if err != nil {
			return nil, fmt.Errorf("fetch bookmarks page %d: %w", page, err)
		}

		threads, err := scrape.Threads(body)
		if err != nil {
			return nil, fmt.Errorf("bookmarks page %d: %w", page, err)
		}
		all = append(all, threads...)

		if len(threads) != PageSize {
			c.logger.Debug("Bookmark listing complete", "pages", page, "threads", len(all))
			return all, nil
		}
	}
}

// FetchPosts returns all posts on the selected page of a thread.
func (c *Client) FetchPosts(ctx context.Context, threadID string, page ThreadPage) ([]forum.Post, error) {
	query := url.Values{
		"threadid": {threadID},
		"perpage":  {strconv.Itoa(PageSize)},
	}
	switch {
	case page.gotoParam != "":
		query.Set("goto", page.gotoParam)
	case page.number > 0:
		query.Set("pagenumber", strconv.Itoa(page.number))
	}

	body, err := c.session.Get(ctx, "/showthread.php", query)
	if err != nil {
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}

	posts, err := scrape.Posts(body)
	if err != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}
	return posts, nil
}

// FetchProfile returns a user's profile, or nil if the user cannot be
// found. The server's only not-found signal is an HTML error page where
// JSON should be, so a body that fails to decode means absence, not
// failure.
func (c *Client) FetchProfile(ctx context.Context, user User) (*forum.Profile, error) {
	query := url.Values{
		"action": {"getinfo"},
		"json":   {"1"},
	}
	switch {
	case user.userID != "":
		query.Set("userid", user.userID)
	case user.username != "":
		query.Set("username", user.username)
	}

	body, err := c.session.Get(ctx, "/member.php", query)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	var profile forum.Profile
	if err := json.Unmarshal(body, &profile); err != nil || profile.Username == "" {
		c.logger.Debug("Profile response did not decode, treating as not found")
		return nil, nil
	}
	return &profile, nil
}

// PostReply submits a reply to a thread: fetch the compose page, scrape
// its tokens, build the multipart payload, and post it. Submission
// success is status-only; the server does not distinguish an expired
// session from any other rejection.
func (c *Client) PostReply(ctx context.Context, threadID string, reply forum.Reply) error {
	body, err := c.session.Get(ctx, "/newreply.php", url.Values{
		"action":   {"newreply"},
		"threadid": {threadID},
	})
	if err != nil {
		return fmt.Errorf("fetch compose page: %w", err)
	}

	params, err := scrape.ParseReplyParams(body)
	if err != nil {
		return fmt.Errorf("thread %s: %w", threadID, err)
	}

	status, err := c.session.PostMultipart(ctx, "/newreply.php", params.Form(reply))
	if err != nil {
		return fmt.Errorf("submit reply: %w", err)
	}
	if status >= 400 {
		return session.ErrLogin
	}

	c.logger.Info("Reply posted", "thread_id", threadID)
	return nil
}
