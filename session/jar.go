package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrSnapshot indicates a persisted session snapshot could not be decoded.
var ErrSnapshot = errors.New("malformed session snapshot")

// Cookie is one serializable jar entry. A zero Expires marks a session
// cookie with no fixed lifetime.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

func (c Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && c.Expires.Before(now)
}

// Jar is an http.CookieJar that records every cookie it accepts so the
// session can be exported and reimported across runs. net/http/cookiejar
// keeps its contents private, so the jar mirrors them.
type Jar struct {
	inner *cookiejar.Jar

	mu      sync.Mutex
	entries map[string]Cookie
}

// NewJar creates an empty recording jar.
func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Jar{inner: inner, entries: make(map[string]Cookie)}, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		key := domain + ";" + path + ";" + c.Name

		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		// MaxAge<0 or a past expiry is a deletion.
		if c.MaxAge < 0 || (!expires.IsZero() && expires.Before(now)) {
			delete(j.entries, key)
			continue
		}

		j.entries[key] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Expires:  expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *Jar) snapshot() []Cookie {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Cookie, 0, len(j.entries))
	for _, c := range j.entries {
		if c.expired(now) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, k int) bool {
		a, b := out[i], out[k]
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Name < b.Name
	})
	return out
}

// ExportCookies writes the session's unexpired cookies as JSON. The user
// must be logged in for the snapshot to be useful later.
func (s *Session) ExportCookies(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.jar.snapshot()); err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	return nil
}

// ImportCookies loads a snapshot written by ExportCookies. Only unexpired
// cookies for the session's domain are installed; everything else in the
// snapshot is ignored.
func (s *Session) ImportCookies(r io.Reader) error {
	var cookies []Cookie
	if err := json.NewDecoder(r).Decode(&cookies); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshot, err)
	}

	now := time.Now()
	host := s.base.Hostname()
	installed := 0
	for _, c := range cookies {
		if c.expired(now) || !domainMatch(host, c.Domain) {
			continue
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		// A parent-domain cookie keeps its domain attribute so the jar
		// still sends it to the session's host.
		if c.Domain != host {
			cookie.Domain = c.Domain
		}
		s.jar.SetCookies(s.base, []*http.Cookie{cookie})
		installed++
	}

	s.logger.Debug("Session snapshot imported", "installed", installed, "total", len(cookies))
	return nil
}

// domainMatch reports whether a cookie scoped to domain applies to host.
func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(domain, ".")
	return host == domain || strings.HasSuffix(host, "."+domain)
}
