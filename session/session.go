// Package session owns the authenticated HTTP transport for the forums:
// the base endpoint, the cookie jar, and the login flow. Everything else
// in the client goes through it.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"sort"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-resty/resty/v2"

	"sa-tail/pkg/forum"
)

// DefaultBaseURL is the forum origin all paths are relative to.
const DefaultBaseURL = "https://forums.somethingawful.com"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// ErrLogin indicates the server rejected an authentication-gated request.
// The site reports no structured reason, so this is all we know.
var ErrLogin = errors.New("login rejected")

// StatusError is a non-success HTTP status on a plain fetch.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.URL)
}

// Session is an owned, serializable forum session. It is not safe for
// concurrent use; the tailer issues one request at a time by design.
type Session struct {
	base   *url.URL
	http   *resty.Client
	jar    *Jar
	logger *slog.Logger
}

// Options configures a Session. Zero values pick the production forum
// origin, a 30s timeout, and the default logger.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates an unauthenticated session. Call Login or ImportCookies
// before using the API operations.
func New(opts Options) (*Session, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	jar, err := NewJar()
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetCookieJar(jar)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))

	return &Session{
		base:   base,
		http:   client,
		jar:    jar,
		logger: opts.Logger,
	}, nil
}

// BaseURL returns the forum origin this session talks to.
func (s *Session) BaseURL() *url.URL {
	return s.base
}

// Login authenticates with a username and password. Success is judged by
// HTTP status alone; on success the server's session cookies land in the
// jar and every later request reuses them.
func (s *Session) Login(ctx context.Context, username, password string) error {
	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"action":   "login",
			"username": username,
			"password": password,
			"next":     "/index.php?json=1",
		}).
		Post("/account.php?json=1")
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if res.IsError() {
		s.logger.Warn("Login rejected", "status_code", res.StatusCode())
		return ErrLogin
	}

	s.logger.Info("Logged in", "username", username)
	return nil
}

// Get fetches a path with query parameters and returns the raw body.
// Network failures and 5xx responses are retried; 4xx responses are not.
func (s *Session) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			start := time.Now()
			res, err := s.http.R().
				SetContext(ctx).
				SetQueryParamsFromValues(query).
				Get(path)
			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"path", path,
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				return fmt.Errorf("get %s: %w", path, err)
			}

			s.logger.Debug("HTTP request completed",
				"path", path,
				"status_code", res.StatusCode(),
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes", len(res.Body()))

			if res.IsError() {
				serr := &StatusError{URL: res.Request.URL, Code: res.StatusCode()}
				if res.StatusCode() >= 500 {
					return serr
				}
				return retry.Unrecoverable(serr)
			}

			body = res.Body()
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "path", path, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	return body, nil
}

// PostMultipart submits a built reply form as multipart/form-data and
// returns the response status. Fields are written in a stable order and
// the attachment part is always present, even when empty.
func (s *Session) PostMultipart(ctx context.Context, path string, form forum.ReplyForm) (int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	names := make([]string, 0, len(form.Fields))
	for name := range form.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, form.Fields[name]); err != nil {
			return 0, fmt.Errorf("write field %s: %w", name, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="attachment"; filename=%q`, form.AttachmentFilename))
	header.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(header)
	if err != nil {
		return 0, fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := part.Write(form.AttachmentContent); err != nil {
		return 0, fmt.Errorf("write attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finalize multipart body: %w", err)
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", w.FormDataContentType()).
		SetBody(buf.Bytes()).
		Post(path)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", path, err)
	}

	s.logger.Debug("Multipart POST completed", "path", path, "status_code", res.StatusCode())
	return res.StatusCode(), nil
}
